package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var watcherKeys = []string{
	"DATABASE_URL", "GAUGES_URL", "DAMS_URL", "WATCHER_MIN_INTERVAL", "WATCHER_REQUEST_TIMEOUT",
	"WATCHER_VALUE_EPSILON", "WATCHER_MAX_GAP", "DRY_RUN", "LOG_LEVEL", "LOG_ENCODING",
}

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range watcherKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cleanEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/sica")
	t.Setenv("GAUGES_URL", "http://feeds.local/gauges")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.MinInterval)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Minute, cfg.MaxGap)
	assert.Equal(t, 0.001, cfg.ValueEpsilon)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "json", cfg.LogEncoding)
	assert.Empty(t, cfg.DamsURL)
}

func TestFromEnvOverrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/sica")
	t.Setenv("DAMS_URL", "http://feeds.local/dams")
	t.Setenv("WATCHER_MIN_INTERVAL", "1m")
	t.Setenv("WATCHER_MAX_GAP", "0s")
	t.Setenv("WATCHER_VALUE_EPSILON", "0.05")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("LOG_ENCODING", "console")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.MinInterval)
	assert.Zero(t, cfg.MaxGap)
	assert.Equal(t, 0.05, cfg.ValueEpsilon)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "console", cfg.LogEncoding)
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing database", env: map[string]string{"GAUGES_URL": "http://x"}, want: "DATABASE_URL"},
		{name: "missing feeds", env: map[string]string{"DATABASE_URL": "postgres://x"}, want: "GAUGES_URL"},
		{name: "bad interval", env: map[string]string{"DATABASE_URL": "postgres://x", "GAUGES_URL": "http://x", "WATCHER_MIN_INTERVAL": "soon"}, want: "WATCHER_MIN_INTERVAL"},
		{name: "negative gap", env: map[string]string{"DATABASE_URL": "postgres://x", "GAUGES_URL": "http://x", "WATCHER_MAX_GAP": "-1m"}, want: "WATCHER_MAX_GAP"},
		{name: "bad epsilon", env: map[string]string{"DATABASE_URL": "postgres://x", "GAUGES_URL": "http://x", "WATCHER_VALUE_EPSILON": "-1"}, want: "WATCHER_VALUE_EPSILON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
