package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresListener receives notifications from a LISTEN channel.
type PostgresListener struct {
	pool    *pgxpool.Pool
	channel string
	policy  Reconnect
	logger  *zap.Logger
}

func NewPostgresListener(pool *pgxpool.Pool, channel string, policy Reconnect, logger *zap.Logger) *PostgresListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresListener{
		pool:    pool,
		channel: channel,
		policy:  policy,
		logger:  logger.Named("feed.postgres"),
	}
}

// Run blocks until ctx is cancelled. Connection failures are retried.
func (l *PostgresListener) Run(ctx context.Context, h Handler) error {
	if l.channel == "" {
		return errors.New("notification channel is required")
	}
	return subscribeForever(ctx, l.logger, "postgres", l.policy, func(ctx context.Context) (bool, error) {
		return l.listen(ctx, h)
	})
}

func (l *PostgresListener) listen(ctx context.Context, h Handler) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	// LISTEN is session state; do not hand this connection back to the pool.
	defer func() {
		conn.Hijack().Close(context.Background())
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info("listening for notifications", zap.String("channel", l.channel))

	delivered := false
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return delivered, fmt.Errorf("wait for notification: %w", err)
		}
		delivered = true
		deliver(l.logger, h, []byte(n.Payload))
	}
}
