package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tether/internal/config"
	"github.com/aretw0/tether/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether keeps parameter objects in sync with connected views",
	Long: `Tether mirrors typed parameter objects into live client sessions.
Values changed on either side are validated, coalesced per tick and
propagated as patches over WebSocket, Server-Sent Events or MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the configuration")
}

// loadConfig reads the configuration named by --config and builds the logger.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logger := logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
