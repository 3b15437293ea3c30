package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterOpts configures a KeyedLimiter.
type LimiterOpts struct {
	// Rate is the number of requests allowed per second for one key.
	Rate float64
	// Burst is the bucket capacity for one key.
	Burst int
	// IdleTTL drops a key's bucket after it has been unused this long.
	IdleTTL time.Duration
}

// DefaultLimiterOpts allows 10 req/s with bursts of 20 per key.
var DefaultLimiterOpts = LimiterOpts{Rate: 10, Burst: 20, IdleTTL: 10 * time.Minute}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// KeyedLimiter keeps one token bucket per key, typically a client address.
type KeyedLimiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	buckets map[string]*bucket
	sweep   time.Time
	now     func() time.Time // for testing
}

// NewKeyedLimiter creates a KeyedLimiter.
func NewKeyedLimiter(opts LimiterOpts) *KeyedLimiter {
	if opts.Rate <= 0 {
		opts.Rate = DefaultLimiterOpts.Rate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultLimiterOpts.Burst
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultLimiterOpts.IdleTTL
	}
	return &KeyedLimiter{opts: opts, buckets: make(map[string]*bucket), now: time.Now}
}

// Allow reports whether key may make a request now, consuming a token.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.evict(now)
	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(k.opts.Rate), k.opts.Burst)}
		k.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// evict drops idle buckets at most once per IdleTTL. Must hold mu.
func (k *KeyedLimiter) evict(now time.Time) {
	if now.Sub(k.sweep) < k.opts.IdleTTL {
		return
	}
	k.sweep = now
	for key, b := range k.buckets {
		if now.Sub(b.seen) >= k.opts.IdleTTL {
			delete(k.buckets, key)
		}
	}
}
