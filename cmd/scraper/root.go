package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maltedev/trendyol-metrics-scraper/internal/config"
	"github.com/maltedev/trendyol-metrics-scraper/internal/logger"
)

var (
	cfg *config.Config
	log *slog.Logger

	logLevel string
	dbDriver string
)

var rootCmd = &cobra.Command{
	Use:           "scraper",
	Short:         "Collects Trendyol product prices and engagement metrics.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if dbDriver != "" {
			cfg.Database.Driver = dbDriver
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log = logger.New(cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db", "", "override DB_DRIVER (postgres or sqlite)")
}
