package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/config"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/feed"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestNewFeedSource(t *testing.T) {
	cfg := config.Config{FeedDriver: config.FeedRedis, FeedChannel: "canal_events", RedisAddr: "localhost:6379"}
	src, closeFn, err := newFeedSource(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &feed.RedisSubscriber{}, src)
	closeFn()

	cfg.FeedDriver = "kafka"
	_, _, err = newFeedSource(cfg, nil, zap.NewNop())
	assert.Error(t, err)
}
