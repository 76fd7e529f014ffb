package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/illenko/relicwatch/models"
	"github.com/illenko/relicwatch/storage"
)

var checkAPI bool

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Print the state of the on-disk cache and database",
	RunE:  runDiagnose,
}

func init() {
	diagnoseCmd.Flags().BoolVar(&checkAPI, "check-api", false, "also check connectivity to the New Relic API")
}

type diagnosis struct {
	Cache    models.DiagnosticReport `json:"cache"`
	CacheOK  bool                    `json:"cache_readable"`
	Database *storage.DBStats        `json:"database,omitempty"`
	Runs     []models.RefreshRun     `json:"recent_refreshes"`
	NewRelic string                  `json:"newrelic,omitempty"`
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d := diagnosis{CacheOK: a.store.RestoreFromDisk()}
	d.Cache = a.store.Diagnose()

	if stats, err := a.db.Stats(ctx); err == nil {
		d.Database = stats
	}
	if runs, err := a.runs.List(ctx, 5); err == nil {
		d.Runs = runs
	}

	if checkAPI {
		d.NewRelic = "disabled"
		if a.client != nil {
			d.NewRelic = "ok"
			if err := a.client.HealthCheck(ctx); err != nil {
				d.NewRelic = "error: " + err.Error()
			}
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("failed to encode diagnosis: %w", err)
	}
	return nil
}
