package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultMinInterval    = 5 * time.Minute
	defaultRequestTimeout = 30 * time.Second
	defaultValueEpsilon   = 0.001
	defaultMaxGap         = 30 * time.Minute
)

// Config holds runtime configuration for the watcher service.
type Config struct {
	DatabaseURL    string
	GaugesURL      string
	DamsURL        string
	MinInterval    time.Duration
	RequestTimeout time.Duration
	ValueEpsilon   float64
	MaxGap         time.Duration
	DryRun         bool
	LogLevel       string
	LogEncoding    string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	return FromEnv()
}

// FromEnv parses the process environment.
func FromEnv() (Config, error) {
	cfg := Config{}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	cfg.GaugesURL = strings.TrimSpace(os.Getenv("GAUGES_URL"))
	cfg.DamsURL = strings.TrimSpace(os.Getenv("DAMS_URL"))
	if cfg.GaugesURL == "" && cfg.DamsURL == "" {
		return cfg, errors.New("at least one of GAUGES_URL or DAMS_URL is required")
	}

	var err error
	if cfg.MinInterval, err = durationEnv("WATCHER_MIN_INTERVAL", defaultMinInterval); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = durationEnv("WATCHER_REQUEST_TIMEOUT", defaultRequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.MaxGap, err = durationEnv("WATCHER_MAX_GAP", defaultMaxGap); err != nil {
		return cfg, err
	}

	cfg.ValueEpsilon = defaultValueEpsilon
	if v := strings.TrimSpace(os.Getenv("WATCHER_VALUE_EPSILON")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return cfg, fmt.Errorf("invalid WATCHER_VALUE_EPSILON: %q", v)
		}
		cfg.ValueEpsilon = f
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.LogEncoding = strings.TrimSpace(os.Getenv("LOG_ENCODING"))
	if cfg.LogEncoding == "" {
		cfg.LogEncoding = "json"
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration", key)
	}
	return d, nil
}
