package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/digcoord/digcoord/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "digcoord",
	Short: "Excavation works coordination service",
	Long: `digcoord coordinates public-works excavation projects: it tracks the
project lifecycle, detects spatial and temporal conflicts between dig
sites, enforces municipal dig moratoriums, and notifies the parties
involved.

Configuration is read from a YAML file (--config) with DIGCOORD_*
environment overrides, e.g. DIGCOORD_DATABASE_DSN.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		slog.SetDefault(newLogger(cfg.Log))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("DIGCOORD_CONFIG"), "path to config YAML")
	rootCmd.AddCommand(serveCmd, migrateCmd, detectCmd, versionCmd)
}

func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
