// Package ratelimit implements token-bucket admission control with a bounded
// bucket table, plus the HTTP/WS admission rules and fleet-wide concurrency
// caps built on top of it.
package ratelimit

import (
	"sync"
	"time"
)

// LimiterConfig bounds the bucket table and controls lazy cleanup.
type LimiterConfig struct {
	// TTL is how long an idle bucket survives before cleanup drops it.
	TTL time.Duration
	// CleanupInterval is the minimum spacing between lazy TTL sweeps.
	CleanupInterval time.Duration
	// MaxBuckets caps the table size. New keys beyond the cap are denied
	// without allocating.
	MaxBuckets int
	// EvictBatch is how many entries (insertion order, oldest first) are
	// dropped when the table is full and a TTL sweep freed nothing.
	EvictBatch int
}

// DefaultLimiterConfig returns the production bucket-table bounds.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		TTL:             15 * time.Minute,
		CleanupInterval: time.Minute,
		MaxBuckets:      100000,
		EvictBatch:      2000,
	}
}

// Result is the outcome of one admission check.
type Result struct {
	// Allowed reports whether the cost was deducted.
	Allowed bool
	// RetryAfter is the suggested wait in seconds when denied.
	RetryAfter float64
	// Remaining is the token balance after the check.
	Remaining float64
}

// bucket is one token-bucket entry. Fields are guarded by the Limiter mutex.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// Limiter is a keyed token-bucket table with TTL cleanup and bounded size.
// A single mutex covers the table and every entry; checks are short and the
// table is the only shared state, so contention stays manageable.
type Limiter struct {
	mu          sync.Mutex
	cfg         LimiterConfig
	buckets     map[string]*bucket
	order       []string // insertion order, for eviction under pressure
	lastCleanup time.Time

	now func() time.Time // test hook
}

// NewLimiter creates a Limiter. Zero config fields fall back to defaults.
func NewLimiter(cfg LimiterConfig) *Limiter {
	def := DefaultLimiterConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = def.MaxBuckets
	}
	if cfg.EvictBatch <= 0 {
		cfg.EvictBatch = def.EvictBatch
	}
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// deniedNewKeyRetryAfter is returned when the table is full and the key
// cannot be admitted without allocating.
const deniedNewKeyRetryAfter = 1.0

// Allow runs one token-bucket check for key. Capacity is the burst size,
// refillRate is tokens per second, cost is the amount to deduct.
func (l *Limiter) Allow(key string, capacity, refillRate, cost float64) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[key]
	if !ok {
		if now.Sub(l.lastCleanup) > l.cfg.CleanupInterval {
			l.cleanupLocked(now)
		}
		if len(l.buckets) >= l.cfg.MaxBuckets {
			l.cleanupLocked(now)
		}
		if len(l.buckets) >= l.cfg.MaxBuckets {
			l.evictLocked(l.cfg.EvictBatch)
		}
		if len(l.buckets) >= l.cfg.MaxBuckets {
			// Table saturated: deny without allocating a bucket for the key.
			return Result{Allowed: false, RetryAfter: deniedNewKeyRetryAfter}
		}
		b = &bucket{tokens: capacity, lastRefill: now}
		l.buckets[key] = b
		l.order = append(l.order, key)
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		if elapsed > 0 {
			b.tokens = min(capacity, b.tokens+elapsed*refillRate)
			b.lastRefill = now
		}
	}
	b.lastSeen = now

	if b.tokens >= cost {
		b.tokens -= cost
		return Result{Allowed: true, Remaining: b.tokens}
	}

	retry := l.cfg.TTL.Seconds()
	if refillRate > 0 {
		retry = (cost - b.tokens) / refillRate
	}
	return Result{Allowed: false, RetryAfter: retry, Remaining: b.tokens}
}

// Len reports the current bucket count.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// cleanupLocked drops buckets idle past TTL. Caller holds l.mu.
func (l *Limiter) cleanupLocked(now time.Time) {
	l.lastCleanup = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.TTL {
			delete(l.buckets, key)
		}
	}
	l.compactOrderLocked()
}

// evictLocked drops up to n live entries in insertion order (oldest first).
// No sorting: this is the bounded fast path under table pressure.
func (l *Limiter) evictLocked(n int) {
	evicted := 0
	idx := 0
	for ; idx < len(l.order) && evicted < n; idx++ {
		key := l.order[idx]
		if _, ok := l.buckets[key]; ok {
			delete(l.buckets, key)
			evicted++
		}
	}
	l.order = l.order[idx:]
}

// compactOrderLocked rebuilds the insertion-order slice without dead keys.
func (l *Limiter) compactOrderLocked() {
	if len(l.order) == len(l.buckets) {
		return
	}
	live := l.order[:0]
	for _, key := range l.order {
		if _, ok := l.buckets[key]; ok {
			live = append(live, key)
		}
	}
	l.order = live
}
