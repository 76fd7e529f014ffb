package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/illenko/relicwatch/models"
)

var refreshDomains []string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the cache once and exit",
	Long: `Collects entities and metrics from New Relic, replaces the cache and writes it to disk.
With --domain only the given domains are collected and the others are kept as cached.`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().StringSliceVarP(&refreshDomains, "domain", "d", nil, "domains to refresh (apm, browser, infra, db, mobile, iot, serverless, synth, ext)")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	var domains []models.Domain
	for _, raw := range refreshDomains {
		d, ok := models.ParseDomain(raw)
		if !ok {
			return fmt.Errorf("unknown domain: %s", raw)
		}
		domains = append(domains, d)
	}

	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	if !cfg.NewRelicEnabled() {
		return errNewRelicDisabled
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.start(ctx)

	var ok bool
	if len(domains) > 0 {
		ok = a.coordinator.RefreshDomains(ctx, domains)
	} else {
		ok = a.coordinator.Refresh(ctx, true)
	}

	if err := a.close(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !ok {
		return fmt.Errorf("refresh failed: %s", a.coordinator.Status().LastError)
	}

	report := a.store.Diagnose()
	fmt.Fprintf(out, "Refreshed %d entities\n", report.TotalEntities)
	for _, d := range models.Domains {
		if n := report.EntitiesByDomain[d]; n > 0 {
			fmt.Fprintf(out, "  %-10s %d\n", d, n)
		}
	}
	fmt.Fprintf(out, "Cache written to %s\n", a.store.Path())
	return nil
}
