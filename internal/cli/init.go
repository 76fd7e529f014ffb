package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new config file",
	Long:  `Creates a new config.yaml file with default settings in the current directory.`,
	RunE:  runInit,
}

const defaultConfig = `# relicwatch configuration
# Every key can be overridden with RELICWATCH_<SECTION>_<KEY>, e.g. RELICWATCH_NEWRELIC_API_KEY.

newrelic:
  api_key: ""        # User API key (NRAK-...)
  account_id: 0
  endpoint: https://api.newrelic.com/graphql
  timeout: 30s
  max_concurrency: 5 # Concurrent NRQL queries per domain
  max_retries: 2

cache:
  path: historico/cache_completo.json
  max_age: 24h       # Older snapshots are refreshed in the background

refresh:
  check_interval: 1h
  timeout: 5m

storage:
  path: relicwatch.db
  history_retention: 30d

incidents:
  path: historico/incidentes.json

gemini:
  api_key: ""        # Leave empty to disable chat
  model: gemini-2.5-flash
  temperature: 0.2
  max_output_tokens: 1024
  history_ttl: 24h   # Repeated questions within this window reuse the stored answer

server:
  port: 8000
  host: 0.0.0.0

log:
  level: info
`

func runInit(cmd *cobra.Command, args []string) error {
	configPath := "config.yaml"
	if cfgFile != "" {
		configPath = cfgFile
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists, remove it first or use a different directory", configPath)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Created", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set newrelic.api_key and newrelic.account_id")
	fmt.Fprintln(out, "  2. Run: relicwatch refresh")
	fmt.Fprintln(out, "  3. Run: relicwatch serve")

	return nil
}
