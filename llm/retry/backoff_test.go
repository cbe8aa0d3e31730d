package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/sgaflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	calls := 0
	persistent := errors.New("persistent")
	err := retryer.Do(context.Background(), func() error {
		calls++
		return persistent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, persistent)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 3, calls)
}

func TestBackoffRetryer_ZeroRetries(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(0), zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffRetryer_ContextCancelled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = time.Second
	policy.MaxDelay = time.Second
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := retryer.Do(ctx, func() error {
		calls++
		return errors.New("slow")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestBackoffRetryer_PredicateSkipsFatal(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")

	policy := fastPolicy(3)
	policy.Retryable = func(err error) bool { return errors.Is(err, transient) }
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)

	calls = 0
	err = retryer.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return transient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestBackoffRetryer_RetryablePredicate(t *testing.T) {
	policy := fastPolicy(3)
	policy.Retryable = types.IsRetryable
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return types.NewError(types.ErrInvalidRequest, "bad payload")
	})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	assert.Equal(t, 1, calls)

	calls = 0
	err = retryer.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return types.NewError(types.ErrServiceUnavailable, "redis down").WithRetryable(true)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffRetryer_OnRetry(t *testing.T) {
	var attempts []int
	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		assert.GreaterOrEqual(t, delay, 5*time.Millisecond)
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	_ = retryer.Do(context.Background(), func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoffRetryer_CalculateDelay(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, nil).(*backoffRetryer)

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, time.Second, r.calculateDelay(10))
}

func TestBackoffRetryer_JitterBounds(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, nil).(*backoffRetryer)

	for i := 0; i < 50; i++ {
		d := r.calculateDelay(3)
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

func TestNewBackoffRetryer_SanitizesPolicy(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{MaxRetries: -1, Multiplier: 0.5}, nil).(*backoffRetryer)
	assert.Equal(t, 0, r.policy.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, r.policy.InitialDelay)
	assert.Equal(t, 2.0, r.policy.Multiplier)
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	calls := 0
	val, err := DoWithResultTyped[int64](retryer, context.Background(), func() (int64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), val)

	_, err = DoWithResultTyped[string](retryer, context.Background(), func() (string, error) {
		return "", errors.New("always")
	})
	assert.Error(t, err)
}

func TestCalculateDelay_StaysWithinBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(rt, "initial"))
		maxDelay := initial + time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(rt, "extra"))
		policy := &RetryPolicy{
			InitialDelay: initial,
			MaxDelay:     maxDelay,
			Multiplier:   rapid.Float64Range(1, 4).Draw(rt, "multiplier"),
			Jitter:       rapid.Bool().Draw(rt, "jitter"),
		}
		r := &backoffRetryer{policy: policy, logger: zap.NewNop()}

		attempt := rapid.IntRange(1, 20).Draw(rt, "attempt")
		d := r.calculateDelay(attempt)

		if d < initial {
			rt.Fatalf("delay %v below initial %v", d, initial)
		}
		if limit := time.Duration(float64(maxDelay) * 1.25); d > limit {
			rt.Fatalf("delay %v above jittered cap %v", d, limit)
		}
	})
}
