package provenance

import (
	"context"
	"errors"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/resilience"
)

// GuardedStore runs every transaction of the wrapped Store through a circuit
// breaker. Only infrastructure failures count against the breaker; business
// outcomes such as NotFound or a guard violation pass through untouched.
type GuardedStore struct {
	inner   Store
	breaker *resilience.Breaker
}

// Guard wraps s. The IsFailure field of opts is replaced.
func Guard(s Store, opts resilience.BreakerOpts) *GuardedStore {
	opts.IsFailure = IsStoreFailure
	return &GuardedStore{inner: s, breaker: resilience.NewBreaker(opts)}
}

// Breaker exposes the breaker for state reporting.
func (g *GuardedStore) Breaker() *resilience.Breaker { return g.breaker }

// IsStoreFailure reports whether err says the store itself is unhealthy.
func IsStoreFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrConflict),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrGuardViolation),
		errors.Is(err, domain.ErrInvalidInput):
		return errors.Is(err, domain.ErrInfrastructure)
	}
	return true
}

func (g *GuardedStore) Read(ctx context.Context, fn func(ReadTx) error) error {
	return g.call(ctx, "store read", func(ctx context.Context) error {
		return g.inner.Read(ctx, fn)
	})
}

func (g *GuardedStore) Write(ctx context.Context, fn func(WriteTx) error) error {
	return g.call(ctx, "store write", func(ctx context.Context) error {
		return g.inner.Write(ctx, fn)
	})
}

func (g *GuardedStore) call(ctx context.Context, op string, f func(context.Context) error) error {
	return g.wrap(op, g.breaker.Call(ctx, f))
}

// wrap turns a rejected call into an infrastructure error.
func (g *GuardedStore) wrap(op string, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return domain.Infrastructure(op, err)
	}
	return err
}

// NodeCounts forwards to the wrapped store when it implements Counter.
func (g *GuardedStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	c, ok := g.inner.(Counter)
	if !ok {
		return nil, errNoCounter
	}
	out, err := resilience.Do(ctx, g.breaker, c.NodeCounts)
	return out, g.wrap("node counts", err)
}

// RelationshipCounts forwards to the wrapped store when it implements Counter.
func (g *GuardedStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	c, ok := g.inner.(Counter)
	if !ok {
		return nil, errNoCounter
	}
	out, err := resilience.Do(ctx, g.breaker, c.RelationshipCounts)
	return out, g.wrap("relationship counts", err)
}

var errNoCounter = errors.New("provenance: store does not report counts")
