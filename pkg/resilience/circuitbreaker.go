// Package resilience provides the circuit breaker guarding the graph store
// and a per-client request limiter.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned, possibly wrapped with the breaker name, for
// calls rejected without reaching the dependency.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// Name prefixes rejection errors, e.g. "neo4j".
	Name string
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before letting probes through.
	Timeout time.Duration
	// HalfOpenMax is how many probes may be in flight while half-open.
	HalfOpenMax int
	// IsFailure decides which errors count against the breaker. Errors it
	// rejects are returned to the caller and count as successes. Nil counts
	// every error.
	IsFailure func(error) bool
	// OnStateChange runs with the breaker lock held on every transition, so
	// it must not call back into the breaker.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts fill in zero fields of the options passed to NewBreaker.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Counts is a point-in-time view of a Breaker.
type Counts struct {
	State               State
	ConsecutiveFailures int
	InFlightProbes      int
	Rejected            uint64
}

// Breaker is a consecutive-failure circuit breaker. Each open/half-open/closed
// cycle is a generation; results of calls admitted in an earlier generation
// are ignored.
type Breaker struct {
	opts BreakerOpts
	now  func() time.Time

	mu       sync.Mutex
	state    State
	gen      uint64
	failures int
	probes   int
	rejected uint64
	openedAt time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state, moving open to half-open once the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Counts returns a snapshot of the breaker.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return Counts{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		InFlightProbes:      b.probes,
		Rejected:            b.rejected,
	}
}

// Call runs f unless the breaker rejects it.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = f(ctx)
	b.settle(gen, err)
	return err
}

// Do is Call for functions that also return a value.
func Do[T any](ctx context.Context, b *Breaker, f func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = f(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	switch {
	case b.state == StateOpen,
		b.state == StateHalfOpen && b.probes >= b.opts.HalfOpenMax:
		b.rejected++
		return 0, b.openErr()
	case b.state == StateHalfOpen:
		b.probes++
	}
	return b.gen, nil
}

func (b *Breaker) settle(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return
	}

	if !b.isFailure(err) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
		b.transition(StateOpen)
		b.openedAt = b.now()
	}
}

// refresh applies the open timeout. Must hold mu.
func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.transition(StateHalfOpen)
	}
}

// transition starts a new generation. Must hold mu.
func (b *Breaker) transition(to State) {
	if to == b.state {
		return
	}
	from := b.state
	b.state = to
	b.gen++
	b.failures = 0
	b.probes = 0
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}

func (b *Breaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if b.opts.IsFailure == nil {
		return true
	}
	return b.opts.IsFailure(err)
}

func (b *Breaker) openErr() error {
	if b.opts.Name == "" {
		return ErrCircuitOpen
	}
	return fmt.Errorf("%s: %w", b.opts.Name, ErrCircuitOpen)
}
