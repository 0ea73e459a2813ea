package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSubscriber receives the same notification payloads relayed over a
// Redis pub/sub channel.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	policy  Reconnect
	logger  *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, channel string, policy Reconnect, logger *zap.Logger) *RedisSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSubscriber{
		client:  client,
		channel: channel,
		policy:  policy,
		logger:  logger.Named("feed.redis"),
	}
}

// Run blocks until ctx is cancelled. Subscription failures are retried.
func (s *RedisSubscriber) Run(ctx context.Context, h Handler) error {
	if s.channel == "" {
		return errors.New("notification channel is required")
	}
	return subscribeForever(ctx, s.logger, "redis", s.policy, func(ctx context.Context) (bool, error) {
		return s.subscribe(ctx, h)
	})
}

func (s *RedisSubscriber) subscribe(ctx context.Context, h Handler) (bool, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// Wait for confirmation so a bad address fails here instead of silently.
	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("subscribed to notifications", zap.String("channel", s.channel))

	ch := pubsub.Channel()
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return delivered, nil
			}
			delivered = true
			deliver(s.logger, h, []byte(msg.Payload))
		}
	}
}
