package feed

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/metrics"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/retry"
)

// Source delivers decoded events to a handler until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// Reconnect configures the subscription-reconnect policy shared by sources.
type Reconnect struct {
	Initial      time.Duration
	Max          time.Duration
	Factor       float64
	JitterFactor float64
}

// DefaultReconnect retries from 1s up to 30s with 10% jitter.
func DefaultReconnect() Reconnect {
	return Reconnect{
		Initial:      time.Second,
		Max:          30 * time.Second,
		Factor:       2.0,
		JitterFactor: 0.1,
	}
}

// subscribeForever calls attempt until ctx ends, backing off between
// failures. attempt returns nil when the subscription closed cleanly after
// having delivered events; the backoff then restarts from Initial.
func subscribeForever(ctx context.Context, logger *zap.Logger, driver string, policy Reconnect, attempt func(ctx context.Context) (delivered bool, err error)) error {
	backoff := policy.Initial
	attemptNum := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attemptNum++

		delivered, err := attempt(ctx)
		if ctx.Err() != nil {
			logger.Info("notification feed stopped", zap.String("driver", driver))
			return ctx.Err()
		}
		if delivered {
			backoff = policy.Initial
		}

		metrics.FeedReconnects.WithLabelValues(driver).Inc()
		if err != nil {
			logger.Warn("notification feed failed, will retry",
				zap.String("driver", driver),
				zap.Error(err),
				zap.Int("attempt", attemptNum),
				zap.Duration("backoff", backoff))
		} else {
			logger.Warn("notification feed closed, will retry",
				zap.String("driver", driver),
				zap.Int("attempt", attemptNum),
				zap.Duration("backoff", backoff))
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = retry.Next(backoff, policy.Max, policy.Factor, policy.JitterFactor)
	}
}

// deliver decodes one payload and dispatches it. Undecodable payloads are
// logged and skipped; a panicking handler does not take the feed down.
func deliver(logger *zap.Logger, h Handler, payload []byte) {
	ev, err := Decode(payload)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, ErrUnknownEvent) {
			outcome = "unknown"
		}
		metrics.EventsTotal.WithLabelValues("unknown", outcome).Inc()
		logger.Warn("skipping notification", zap.Error(err), zap.ByteString("payload", truncate(payload, 256)))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic while handling event",
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	ev.Dispatch(h)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
