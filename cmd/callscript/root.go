package main

import (
	"github.com/spf13/cobra"

	"callscript/internal/config"
	"callscript/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "callscript",
	Short: "Call script teleprompter API",
	Long: `callscript serves step scripts to call-center agents with lead details
filled in, lets agents cycle and pin their preferred wording, and routes
agent submissions through manager moderation.

Configuration is read from the environment (DATABASE_URL, REDIS_URL,
MEILI_URL, CALLSCRIPT_*).`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig parses the environment and installs the JSON logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	observability.InitLogger(cfg.LogLevel)
	return cfg, nil
}
