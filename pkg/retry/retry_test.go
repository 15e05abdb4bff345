package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"freightaudit/internal/config"
)

func fast(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithCallback(t *testing.T) {
	boom := errors.New("boom")

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls, retries := 0, 0
		err := RetryWithCallback(context.Background(), fast(3), func() error {
			calls++
			return boom
		}, func(int, error, time.Duration) { retries++ })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, retries)
	})

	t.Run("fatal stops at once", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast(5), func() error {
			calls++
			return NewFatalError(boom)
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast(5), func() error {
			calls++
			if calls < 3 {
				return boom
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, fast(10), func() error {
			calls++
			cancel()
			return boom
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestNextDelay(t *testing.T) {
	p := Policy{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, NextDelay(p, 1))
	assert.Equal(t, 400*time.Millisecond, NextDelay(p, 3))
	assert.Equal(t, time.Second, NextDelay(p, 10))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(DefaultPolicy(), config.RetryConfig{MaxAttempts: 7, MaxInterval: 2 * time.Second})
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.MaxInterval)
	assert.Equal(t, DefaultPolicy().InitialInterval, p.InitialInterval)
	assert.Equal(t, DefaultPolicy().Multiplier, p.Multiplier)
}
