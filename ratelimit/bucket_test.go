package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance bucket time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg LimiterConfig) (*Limiter, *fakeClock) {
	l := NewLimiter(cfg)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l.now = clock.now
	return l, clock
}

func TestAllowBurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(LimiterConfig{})

	// capacity=3, 60 rpm -> 1 token/sec
	for i := 0; i < 3; i++ {
		res := l.Allow("K", 3, 1, 1)
		require.True(t, res.Allowed, "call %d should be allowed", i+1)
	}

	res := l.Allow("K", 3, 1, 1)
	require.False(t, res.Allowed)
	assert.InDelta(t, 1.0, res.RetryAfter, 0.1)
}

func TestAllowRefill(t *testing.T) {
	l, clock := newTestLimiter(LimiterConfig{})

	for i := 0; i < 3; i++ {
		l.Allow("K", 3, 1, 1)
	}
	require.False(t, l.Allow("K", 3, 1, 1).Allowed)

	clock.advance(2 * time.Second)
	res := l.Allow("K", 3, 1, 1)
	assert.True(t, res.Allowed)
	// 2 tokens refilled, one consumed (the denied attempt consumed nothing)
	assert.InDelta(t, 1.0, res.Remaining, 0.001)
}

func TestAllowRefillNeverExceedsCapacity(t *testing.T) {
	l, clock := newTestLimiter(LimiterConfig{})

	l.Allow("K", 5, 10, 1)
	clock.advance(time.Hour)

	res := l.Allow("K", 5, 10, 1)
	require.True(t, res.Allowed)
	assert.InDelta(t, 4.0, res.Remaining, 0.001)
}

func TestBucketMonotonicity(t *testing.T) {
	// Between two allowances with cost=1, the remaining-token delta is
	// bounded by -1 below and rate*elapsed above.
	l, clock := newTestLimiter(LimiterConfig{})
	const capacity, rate = 10.0, 2.0

	prev := l.Allow("K", capacity, rate, 1)
	require.True(t, prev.Allowed)

	for i := 0; i < 20; i++ {
		step := time.Duration(i%4) * 250 * time.Millisecond
		clock.advance(step)
		res := l.Allow("K", capacity, rate, 1)
		if !res.Allowed {
			prev = res
			continue
		}
		delta := res.Remaining - prev.Remaining
		assert.GreaterOrEqual(t, delta, -1.0-1e-9)
		assert.LessOrEqual(t, delta, rate*step.Seconds()+1e-9)
		prev = res
	}
}

func TestZeroRefillRateDeniesWithTTL(t *testing.T) {
	l, _ := newTestLimiter(LimiterConfig{TTL: 30 * time.Second})

	require.True(t, l.Allow("K", 1, 0, 1).Allowed)
	res := l.Allow("K", 1, 0, 1)
	require.False(t, res.Allowed)
	assert.InDelta(t, 30.0, res.RetryAfter, 0.001)
}

func TestDynamicCost(t *testing.T) {
	l, _ := newTestLimiter(LimiterConfig{})

	res := l.Allow("K", 10, 1, 4)
	require.True(t, res.Allowed)
	assert.InDelta(t, 6.0, res.Remaining, 0.001)

	// cost larger than remaining: denied, retry scales with the deficit
	res = l.Allow("K", 10, 1, 8)
	require.False(t, res.Allowed)
	assert.InDelta(t, 2.0, res.RetryAfter, 0.001)
}

func TestTTLCleanup(t *testing.T) {
	l, clock := newTestLimiter(LimiterConfig{
		TTL:             time.Minute,
		CleanupInterval: time.Second,
	})

	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("old-%d", i), 5, 1, 1)
	}
	require.Equal(t, 10, l.Len())

	clock.advance(2 * time.Minute)
	// A new key triggers the lazy sweep; expired buckets are dropped.
	l.Allow("fresh", 5, 1, 1)
	assert.Equal(t, 1, l.Len())
}

func TestEvictionInsertionOrder(t *testing.T) {
	l, _ := newTestLimiter(LimiterConfig{
		TTL:             time.Hour, // nothing expires; force eviction path
		CleanupInterval: time.Hour,
		MaxBuckets:      4,
		EvictBatch:      2,
	})

	for i := 0; i < 4; i++ {
		l.Allow(fmt.Sprintf("k%d", i), 5, 1, 1)
	}
	require.Equal(t, 4, l.Len())

	// Table full: the two oldest entries are evicted to admit the new key.
	res := l.Allow("k4", 5, 1, 1)
	require.True(t, res.Allowed)
	assert.Equal(t, 3, l.Len())

	// The oldest keys lost their bucket state: k0 starts from full capacity.
	res = l.Allow("k0", 5, 1, 1)
	require.True(t, res.Allowed)
	assert.InDelta(t, 4.0, res.Remaining, 0.001)
}

func TestEvictionAdmitsNewKeyUnderPressure(t *testing.T) {
	l, _ := newTestLimiter(LimiterConfig{
		TTL:             time.Hour,
		CleanupInterval: time.Hour,
		MaxBuckets:      2,
		EvictBatch:      1,
	})

	l.Allow("a", 5, 1, 1)
	l.Allow("b", 5, 1, 1)

	// Eviction frees one slot; the third key is admitted.
	require.True(t, l.Allow("c", 5, 1, 1).Allowed)
	assert.Equal(t, 2, l.Len())
}

func TestDenyWithoutAllocating(t *testing.T) {
	l, _ := newTestLimiter(LimiterConfig{
		TTL:             time.Hour,
		CleanupInterval: time.Hour,
		MaxBuckets:      1,
		EvictBatch:      1,
	})
	l.Allow("only", 5, 1, 1)

	// Neuter eviction so the saturated-table branch is reachable.
	l.cfg.EvictBatch = 0

	res := l.Allow("new", 5, 1, 1)
	require.False(t, res.Allowed)
	assert.InDelta(t, 1.0, res.RetryAfter, 0.001)
	// The denied key must not have allocated a bucket.
	assert.Equal(t, 1, l.Len())
}

func TestExistingKeyBypassesTableCap(t *testing.T) {
	l, _ := newTestLimiter(LimiterConfig{
		TTL:             time.Hour,
		CleanupInterval: time.Hour,
		MaxBuckets:      1,
		EvictBatch:      1,
	})

	require.True(t, l.Allow("k", 5, 1, 1).Allowed)
	// Known keys never go through the admission-on-allocation path.
	res := l.Allow("k", 5, 1, 1)
	require.True(t, res.Allowed)
	assert.InDelta(t, 3.0, res.Remaining, 0.001)
}
