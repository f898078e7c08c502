package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastBackoff = Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond}

func TestWithRetryRetriesUntilSuccess(t *testing.T) {
	calls := 0
	handler := WithRetry(func(context.Context, kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("db down")
		}
		return nil
	}, fastBackoff)

	require.NoError(t, handler(context.Background(), kafka.Message{}))
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUpOnPoison(t *testing.T) {
	calls := 0
	handler := WithRetry(func(context.Context, kafka.Message) error {
		calls++
		return fmt.Errorf("%w: bad payload", ErrPoisonMessage)
	}, fastBackoff)

	assert.ErrorIs(t, handler(context.Background(), kafka.Message{}), ErrPoisonMessage)
	assert.Equal(t, 1, calls)
}

func TestWithRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	handler := WithRetry(func(context.Context, kafka.Message) error {
		return errors.New("db down")
	}, fastBackoff)

	assert.ErrorIs(t, handler(ctx, kafka.Message{}), context.DeadlineExceeded)
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Max: 3 * time.Millisecond}
	d := b.next(0)
	assert.Equal(t, time.Millisecond, d)
	d = b.next(d)
	assert.Equal(t, 2*time.Millisecond, d)
	d = b.next(d)
	assert.Equal(t, 3*time.Millisecond, d)
}
