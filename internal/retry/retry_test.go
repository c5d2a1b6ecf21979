package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock records requested sleeps without waiting.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newTestController(policy Policy, clock *fakeClock) *Controller {
	return New(policy, zap.NewNop(), WithClock(clock), WithRand(func() float64 { return 0.5 }))
}

func TestDoTransientThenSuccess(t *testing.T) {
	clock := &fakeClock{}
	c := newTestController(Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute}, clock)

	calls := 0
	err := c.Do(context.Background(), "op", func() error {
		calls++
		if calls < 4 {
			return Transient(errors.New("rate limit"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls, "fails N-1 times with bound N must invoke exactly N times")
	assert.Len(t, clock.sleeps, 3)
}

func TestDoFatalNeverRetries(t *testing.T) {
	clock := &fakeClock{}
	c := newTestController(Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute}, clock)

	calls := 0
	err := c.Do(context.Background(), "op", func() error {
		calls++
		return Fatal(errors.New("invalid credentials"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.sleeps)
	assert.Equal(t, ClassFatal, Classify(err))
}

func TestDoStructuralNeverRetries(t *testing.T) {
	clock := &fakeClock{}
	c := newTestController(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}, clock)

	calls := 0
	err := c.Do(context.Background(), "op", func() error {
		calls++
		return Structural(errors.New("comment form absent"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustionDemotesToCallerError(t *testing.T) {
	clock := &fakeClock{}
	c := newTestController(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}, clock)

	underlying := errors.New("connection reset")
	calls := 0
	err := c.Do(context.Background(), "read rows", func() error {
		calls++
		return Transient(underlying)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "3 attempts exhausted")
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	clock := &fakeClock{}
	// Jitter 0 for exact delays.
	c := New(Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 4 * time.Second}, zap.NewNop(), WithClock(clock))

	_ = c.Do(context.Background(), "op", func() error {
		return Transient(errors.New("timeout"))
	})

	require.Len(t, clock.sleeps, 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, clock.sleeps)
}

func TestBackoffJitterDeterministicWithInjectedRand(t *testing.T) {
	clock := &fakeClock{}
	c := New(Policy{MaxAttempts: 2, BaseDelay: 10 * time.Second, MaxDelay: time.Minute, Jitter: 0.2},
		zap.NewNop(), WithClock(clock), WithRand(func() float64 { return 0 }))

	_ = c.Do(context.Background(), "op", func() error {
		return Transient(errors.New("timeout"))
	})

	// spread = 2s, delay = 10s - 1s + 0 = 9s
	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 9*time.Second, clock.sleeps[0])
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestController(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}, &fakeClock{})
	calls := 0
	err := c.Do(ctx, "op", func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"explicit transient", Transient(errors.New("x")), ClassTransient},
		{"explicit business", Business(errors.New("duplicate")), ClassBusiness},
		{"explicit validation", Validation(errors.New("missing field")), ClassValidation},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"rate limit message", errors.New("googleapi: Error 429: too many requests"), ClassTransient},
		{"auth message", errors.New("googleapi: Error 403: forbidden"), ClassFatal},
		{"unknown message defaults structural", errors.New("element not found"), ClassStructural},
		{"wrapped keeps tag", Transient(errors.New("inner")), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
