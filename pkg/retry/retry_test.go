package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestBackoffWithinBounds(t *testing.T) {
	b := NewBackoff(Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
	})

	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Calculate(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond, "attempt %d", attempt)
		assert.Less(t, d, time.Second, "attempt %d", attempt)
	}
}

func TestBackoffCapsAtMaxInterval(t *testing.T) {
	b := NewBackoff(Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Multiplier:      10.0,
	})

	// Deep attempts are clamped to [max/2, max).
	d := b.Calculate(8)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 200*time.Millisecond)
}

func TestRetrierRetriesTransientErrors(t *testing.T) {
	r := NewRetrier(fastPolicy(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return apperrors.ErrRPCUnavailable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierStopsOnTerminalError(t *testing.T) {
	r := NewRetrier(fastPolicy(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return apperrors.ErrNoLiquidity
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoLiquidity)
	assert.Equal(t, 1, calls, "terminal errors must not be retried")
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	r := NewRetrier(fastPolicy(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return apperrors.ErrRPCUnavailable
	})
	require.Error(t, err)
	// Initial attempt plus MaxRetries retries.
	assert.Equal(t, 4, calls)
}

func TestRetrierHonorsContextCancellation(t *testing.T) {
	r := NewRetrier(Policy{
		MaxRetries:      10,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error {
		calls++
		return apperrors.ErrRPCUnavailable
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}

func TestRetrierCustomClassifier(t *testing.T) {
	policy := fastPolicy()
	policy.RetryableFunc = func(err error) bool {
		return false
	}
	r := NewRetrier(policy, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("some failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.Multiplier = 0.5
	assert.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.MaxInterval = time.Millisecond
	assert.Error(t, bad.Validate())
}
