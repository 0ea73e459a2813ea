package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/civilday"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/config"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/db"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/feed"
	httpserver "github.com/02loveslollipop/canal-flow-monitor/services/api/http"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/live"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/logging"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/retry"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/snapshot"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/state"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	calendar, err := civilday.New(cfg.CivilTimezone)
	if err != nil {
		return err
	}

	store, err := db.New(ctx, cfg.DatabaseURL, db.WithHistoryDays(cfg.MeasurementHistoryDays))
	if err != nil {
		return fmt.Errorf("db connection error: %w", err)
	}
	defer store.Close()

	cache, err := snapshot.Open(snapshot.Config{Path: cfg.CacheDir, Logger: logger})
	if err != nil {
		return fmt.Errorf("snapshot cache error: %w", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("failed to close snapshot cache", zap.Error(err))
		}
	}()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.RefreshMaxRetries

	svc, err := state.New(state.Options{
		Fetcher:  store,
		Cache:    cache,
		Calendar: calendar,
		Retry:    retryCfg,
		Timeout:  cfg.RefreshTimeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	source, closeSource, err := newFeedSource(cfg, store, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	go func() {
		if err := source.Run(ctx, svc); err != nil && ctx.Err() == nil {
			logger.Error("notification feed stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("initial network load failed, serving cached state", zap.Error(err))
		}
	}()

	if cfg.RefreshCron != "" {
		scheduler := cron.New(cron.WithParser(config.CronParser), cron.WithChain(cron.Recover(logging.Cron(logger))))
		if _, err := scheduler.AddFunc(cfg.RefreshCron, func() { svc.RefreshAsync("schedule") }); err != nil {
			return fmt.Errorf("schedule refresh: %w", err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		State:    svc,
		History:  store,
		Live:     live.New(calendar, cfg.DriftCap),
		Calendar: calendar,
		Logger:   logger,
	})
	logger.Info("REST API listening",
		zap.String("addr", cfg.ListenAddr()),
		zap.String("feed", cfg.FeedDriver),
		zap.String("timezone", cfg.CivilTimezone))

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

// newFeedSource picks the notification transport. The returned func
// releases anything the source owns.
func newFeedSource(cfg config.Config, store *db.Store, logger *zap.Logger) (feed.Source, func(), error) {
	switch cfg.FeedDriver {
	case config.FeedRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}
		return feed.NewRedisSubscriber(client, cfg.FeedChannel, feed.DefaultReconnect(), logger), closeFn, nil
	case config.FeedPostgres:
		return feed.NewPostgresListener(store.Pool(), cfg.FeedChannel, feed.DefaultReconnect(), logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported feed driver %q", cfg.FeedDriver)
}
