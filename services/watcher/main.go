package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/logging"
	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/config"
	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/db"
	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/models"
	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/telemetry"
	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "watcher config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watcher logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger.Named("watcher")); err != nil {
		logger.Error("watcher failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+10*time.Second)
	defer cancel()

	client := &http.Client{Timeout: cfg.RequestTimeout}
	retrievalTS := time.Now().UTC().Truncate(time.Second)

	var sources []telemetry.Source
	if cfg.GaugesURL != "" {
		sources = append(sources, telemetry.Source{Name: "gauges", URL: cfg.GaugesURL})
	}
	if cfg.DamsURL != "" {
		sources = append(sources, telemetry.Source{Name: "dams", URL: cfg.DamsURL})
	}

	feeds, err := telemetry.FetchAll(ctx, client, sources)
	if err != nil {
		return err
	}
	var gauges, dams []models.Station
	for i, src := range sources {
		logger.Info("fetched feed",
			zap.String("feed", src.Name),
			zap.String("network", feeds[i].Network),
			zap.Int("stations", len(feeds[i].Stations)))
		switch src.Name {
		case "gauges":
			gauges = feeds[i].Stations
		case "dams":
			dams = feeds[i].Stations
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	pending, err := prepareMeasurements(ctx, pool, cfg, gauges, retrievalTS)
	if err != nil {
		return err
	}
	levels, err := prepareLevels(ctx, pool, cfg, dams, retrievalTS)
	if err != nil {
		return err
	}

	if len(pending) == 0 && len(levels) == 0 {
		logger.Info("no new readings to insert", zap.Time("retrieval", retrievalTS))
		return nil
	}

	logger.Info("prepared new readings",
		zap.Int("measurements", len(pending)),
		zap.Int("levels", len(levels)),
		zap.Bool("dry_run", cfg.DryRun))

	if cfg.DryRun {
		for _, cand := range pending {
			logger.Info("dry-run: would insert measurement",
				zap.String("point_id", cand.PointID),
				zap.Time("ts", cand.TS),
				zap.Float64("head", cand.Head),
				zap.Float64("flow", cand.Flow),
				zap.Float64("volume", cand.Volume))
		}
		for _, cand := range levels {
			logger.Info("dry-run: would insert level",
				zap.String("dam_id", cand.DamID),
				zap.Time("ts", cand.TS),
				zap.Float64("level", cand.Level))
		}
		return nil
	}

	if err := db.InsertMeasurements(ctx, pool, pending); err != nil {
		return fmt.Errorf("insert measurements: %w", err)
	}
	if err := db.InsertLevels(ctx, pool, levels); err != nil {
		return fmt.Errorf("insert levels: %w", err)
	}

	logger.Info("inserted readings", zap.Int("measurements", len(pending)), zap.Int("levels", len(levels)))
	return nil
}

func prepareMeasurements(ctx context.Context, pool *pgxpool.Pool, cfg config.Config, stations []models.Station, retrievalTS time.Time) ([]models.MeasurementCandidate, error) {
	if len(stations) == 0 {
		return nil, nil
	}
	points, err := db.FetchPointSensors(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("load point sensors: %w", err)
	}
	last, err := db.FetchLastMeasurements(ctx, pool, utils.PointIDs(points))
	if err != nil {
		return nil, fmt.Errorf("load last measurements: %w", err)
	}
	candidates := utils.BuildMeasurementCandidates(stations, points, retrievalTS)
	return utils.FilterNewMeasurements(candidates, last, cfg.MinInterval, cfg.ValueEpsilon, cfg.MaxGap), nil
}

func prepareLevels(ctx context.Context, pool *pgxpool.Pool, cfg config.Config, stations []models.Station, retrievalTS time.Time) ([]models.LevelCandidate, error) {
	if len(stations) == 0 {
		return nil, nil
	}
	dams, err := db.FetchDamSensors(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("load dam sensors: %w", err)
	}
	last, err := db.FetchLastLevels(ctx, pool, utils.DamIDs(dams))
	if err != nil {
		return nil, fmt.Errorf("load last levels: %w", err)
	}
	candidates := utils.BuildLevelCandidates(stations, dams, retrievalTS)
	return utils.FilterNewLevels(candidates, last, cfg.MinInterval, cfg.ValueEpsilon), nil
}
