package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/illenko/relicwatch/config"
)

const version = "v0.1.0"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "relicwatch",
	Short: "New Relic monitoring cache and API",
	Long: `relicwatch keeps a consolidated cache of New Relic entities and their metrics
and serves it over a REST API.

It:
- Collects entities per domain (APM, browser, infrastructure, ...) with their metrics
- Keeps only entities that report data and deduplicates them across domains
- Refreshes the cache in the background once it is older than cache.max_age
- Correlates incidents with cached entities and answers questions about them`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(diagnoseCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "relicwatch", version)
	},
}

// loadConfig reads the config and installs the default logger writing to logOut.
func loadConfig(logOut io.Writer) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel()
	if verbose || os.Getenv("DEBUG") == "true" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))

	return cfg, nil
}
