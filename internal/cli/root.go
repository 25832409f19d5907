package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath   string
	tenantID string
)

var rootCmd = &cobra.Command{
	Use:   "shipsplit",
	Short: "ShipSplit - a self-hosted A/B testing engine for commerce storefronts",
	Long: `ShipSplit is a self-hosted A/B testing engine for commerce storefronts.
Single Go binary, embedded SQLite, deterministic visitor bucketing.

Running without a subcommand starts the server (same as 'shipsplit serve').`,
	RunE: runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("SHIPSPLIT_DB", "./shipsplit.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", getEnvOrDefault("SHIPSPLIT_TENANT", "default"), "tenant id")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
