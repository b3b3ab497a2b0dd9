package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codefionn/threaddeck/internal/config"
	"github.com/codefionn/threaddeck/internal/logger"
)

var (
	configFile string
	logLevel   string
)

// rootCmd runs the server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "threaddeck",
	Short: "Multi-workspace front end for Claude Code threads",
	Long: `Threaddeck keeps conversation threads for several workspaces in one
place and drives the Claude Code CLI for each of them.

If no subcommand is specified, runs the server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (JSON, defaults to the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.GetConfigPath()
}

// loadConfig reads the config and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) error {
	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
