package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

// fakeClock lets tests move the breaker past its open timeout.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts BreakerOpts) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(opts)
	b.now = clock.now
	return b, clock
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerOpts{})
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, DefaultBreakerOpts.FailThreshold, b.opts.FailThreshold)
	assert.Equal(t, DefaultBreakerOpts.Timeout, b.opts.Timeout)
	assert.Equal(t, DefaultBreakerOpts.HalfOpenMax, b.opts.HalfOpenMax)
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})

	for range 2 {
		assert.ErrorIs(t, b.Call(ctx, fail), errDown)
	}
	require.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Counts().ConsecutiveFailures)

	assert.ErrorIs(t, b.Call(ctx, fail), errDown)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, uint64(1), b.Counts().Rejected)
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})

	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, fail)
	require.NoError(t, b.Call(ctx, ok))
	assert.Zero(t, b.Counts().ConsecutiveFailures)

	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("probe success closes", func(t *testing.T) {
		b, clock := newTestBreaker(BreakerOpts{FailThreshold: 2, Timeout: 5 * time.Second})
		_ = b.Call(ctx, fail)
		_ = b.Call(ctx, fail)
		require.Equal(t, StateOpen, b.State())

		clock.advance(4 * time.Second)
		assert.Equal(t, StateOpen, b.State())
		clock.advance(time.Second)
		assert.Equal(t, StateHalfOpen, b.State())

		require.NoError(t, b.Call(ctx, ok))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("probe failure reopens", func(t *testing.T) {
		b, clock := newTestBreaker(BreakerOpts{FailThreshold: 2, Timeout: 5 * time.Second})
		_ = b.Call(ctx, fail)
		_ = b.Call(ctx, fail)
		clock.advance(6 * time.Second)

		assert.ErrorIs(t, b.Call(ctx, fail), errDown)
		assert.Equal(t, StateOpen, b.State())
	})
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	ctx := context.Background()
	notFound := errors.New("not found")
	b, _ := newTestBreaker(BreakerOpts{
		FailThreshold: 2,
		Timeout:       time.Second,
		IsFailure:     func(err error) bool { return !errors.Is(err, notFound) },
	})

	for range 5 {
		assert.ErrorIs(t, b.Call(ctx, func(context.Context) error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, b.State())

	// An ignored error between two real failures resets the run.
	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, func(context.Context) error { return notFound })
	_ = b.Call(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOnStateChange(t *testing.T) {
	ctx := context.Background()
	var transitions []string
	b, clock := newTestBreaker(BreakerOpts{
		FailThreshold: 1,
		Timeout:       time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Call(ctx, fail)
	clock.advance(2 * time.Second)
	require.NoError(t, b.Call(ctx, ok))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second, HalfOpenMax: 1})
	_ = b.Call(ctx, fail)
	clock.advance(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Call(ctx, func(context.Context) error { <-release; return nil })
	}()

	require.Eventually(t, func() bool { return b.Counts().InFlightProbes == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, b.Call(ctx, ok), ErrCircuitOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresStaleResults(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Call(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Trip while the slow call from the closed generation is still running.
	_ = b.Call(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerNamedRejection(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(BreakerOpts{Name: "neo4j", FailThreshold: 1, Timeout: time.Minute})
	_ = b.Call(ctx, fail)

	err := b.Call(ctx, ok)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualError(t, err, "neo4j: circuit breaker is open")
}

func TestDo(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})

	n, err := Do(ctx, b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Do(ctx, b, func(context.Context) (int, error) { return 0, errDown })
	assert.ErrorIs(t, err, errDown)

	n, err = Do(ctx, b, func(context.Context) (int, error) { return 7, nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, n)
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		assert.Equal(t, want, s.String())
	}
}
