package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/civilday"
)

// Feed drivers.
const (
	FeedPostgres = "postgres"
	FeedRedis    = "redis"
)

// TriggerChannel is the channel the database notify triggers publish on.
const TriggerChannel = "canal_events"

// CronParser accepts five or six field specs and descriptors like "@every 5m".
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config holds environment-driven settings for the aggregation API.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Port        int    `env:"PORT"`
	APIPort     int    `env:"API_PORT"`
	BearerToken string `env:"API_BEARER_TOKEN"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"LOG_ENCODING" envDefault:"json"`

	CivilTimezone string        `env:"CIVIL_TIMEZONE" envDefault:"America/Mexico_City"`
	DriftCap      time.Duration `env:"DRIFT_CAP" envDefault:"30m"`
	LiveTick      time.Duration `env:"LIVE_TICK" envDefault:"5s"`

	CacheDir string `env:"CACHE_DIR" envDefault:"./data/snapshot"`

	RefreshCron       string        `env:"REFRESH_CRON" envDefault:"@every 5m"`
	RefreshTimeout    time.Duration `env:"REFRESH_TIMEOUT" envDefault:"60s"`
	RefreshMaxRetries int           `env:"REFRESH_MAX_RETRIES" envDefault:"4"`

	// MeasurementHistoryDays limits fetched measurement rows; 0 keeps all.
	MeasurementHistoryDays int `env:"MEASUREMENT_HISTORY_DAYS" envDefault:"0"`

	FeedDriver    string `env:"FEED_DRIVER" envDefault:"postgres"`
	FeedChannel   string `env:"FEED_CHANNEL" envDefault:"canal_events"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file
	return FromEnv()
}

// FromEnv parses and validates the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	switch {
	case c.Port < 0:
		return fmt.Errorf("invalid PORT: %d", c.Port)
	case c.Port == 0 && c.APIPort < 0:
		return fmt.Errorf("invalid API_PORT: %d", c.APIPort)
	case c.Port == 0 && c.APIPort > 0:
		c.Port = c.APIPort
	case c.Port == 0:
		c.Port = 8080
	}

	if _, err := civilday.New(c.CivilTimezone); err != nil {
		return fmt.Errorf("invalid CIVIL_TIMEZONE: %w", err)
	}
	if c.DriftCap < 0 {
		return fmt.Errorf("invalid DRIFT_CAP: %s", c.DriftCap)
	}
	if c.LiveTick <= 0 {
		return fmt.Errorf("invalid LIVE_TICK: %s", c.LiveTick)
	}
	if c.RefreshCron != "" {
		if _, err := CronParser.Parse(c.RefreshCron); err != nil {
			return fmt.Errorf("invalid REFRESH_CRON: %w", err)
		}
	}
	if c.RefreshTimeout < 0 {
		return fmt.Errorf("invalid REFRESH_TIMEOUT: %s", c.RefreshTimeout)
	}
	if c.RefreshMaxRetries < 1 {
		return fmt.Errorf("invalid REFRESH_MAX_RETRIES: %d", c.RefreshMaxRetries)
	}
	if c.MeasurementHistoryDays < 0 {
		return fmt.Errorf("invalid MEASUREMENT_HISTORY_DAYS: %d", c.MeasurementHistoryDays)
	}

	c.FeedDriver = strings.ToLower(strings.TrimSpace(c.FeedDriver))
	switch c.FeedDriver {
	case FeedPostgres, FeedRedis:
	default:
		return fmt.Errorf("invalid FEED_DRIVER: %q", c.FeedDriver)
	}
	if c.FeedChannel == "" {
		return errors.New("FEED_CHANNEL is required")
	}
	// The notify triggers in db/migrations send on a fixed channel.
	if c.FeedDriver == FeedPostgres && c.FeedChannel != TriggerChannel {
		return fmt.Errorf("invalid FEED_CHANNEL: %q (the postgres triggers notify on %q)", c.FeedChannel, TriggerChannel)
	}
	return nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
