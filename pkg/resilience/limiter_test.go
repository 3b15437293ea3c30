package resilience

import (
	"testing"
	"time"
)

func TestKeyedLimiterBurst(t *testing.T) {
	now := time.Now()
	l := NewKeyedLimiter(LimiterOpts{Rate: 1, Burst: 3, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("expected burst exhausted")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("keys must not share a bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("expected one token refilled")
	}
}

func TestKeyedLimiterEvictsIdle(t *testing.T) {
	now := time.Now()
	l := NewKeyedLimiter(LimiterOpts{Rate: 1, Burst: 1, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", l.Len())
	}

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	if l.Len() != 1 {
		t.Fatalf("expected idle keys evicted, got %d", l.Len())
	}
}

func TestKeyedLimiterDefaults(t *testing.T) {
	l := NewKeyedLimiter(LimiterOpts{})
	if l.opts != DefaultLimiterOpts {
		t.Fatalf("opts = %+v, want %+v", l.opts, DefaultLimiterOpts)
	}
}
