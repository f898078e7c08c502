package broker

import (
	"context"
	"errors"
	"time"

	"quickkart-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrPoisonMessage marks a message that can never be handled, such as one
// that does not decode. Consumers commit past it instead of retrying.
var ErrPoisonMessage = errors.New("poison message")

// Backoff is the delay schedule between handler attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff starts at 200ms and doubles up to 10s.
var DefaultBackoff = Backoff{Initial: 200 * time.Millisecond, Max: 10 * time.Second}

func (b Backoff) next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.Initial
	}
	d *= 2
	if d > b.Max {
		return b.Max
	}
	return d
}

// WithRetry retries handler on the same message until it succeeds, fails
// with ErrPoisonMessage, or ctx is done. The returned error is then the
// poison error or ctx.Err().
func WithRetry(handler MessageHandler, backoff Backoff) MessageHandler {
	logger := util.ComponentLogger("kafka-retry")
	return func(ctx context.Context, msg kafka.Message) error {
		var delay time.Duration
		for attempt := 1; ; attempt++ {
			err := handler(ctx, msg)
			if err == nil || errors.Is(err, ErrPoisonMessage) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			delay = backoff.next(delay)
			logger.Warn("Handler failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
				zap.Duration("delay", delay),
				zap.Error(err))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}
