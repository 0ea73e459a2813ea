package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/config"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/db"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/logging"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := db.Migrate(cmd.Context(), cfg.DatabaseURL); err != nil {
		return err
	}
	logger.Info("migrations applied", zap.String("feed_channel", cfg.FeedChannel))
	return nil
}
