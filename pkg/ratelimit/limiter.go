package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// ResetIn is the time until the bucket regains capacity. It is zero
	// when the request was admitted with capacity left.
	ResetIn time.Duration
}

// Limiter admits or refuses one request against key's budget. The check
// and the consumption happen atomically per key.
type Limiter interface {
	Allow(ctx context.Context, key string, quota Quota) (Decision, error)
}

// ===========================================================================
// In-process token buckets
// ===========================================================================

// DefaultIdleTTL is how long an unused bucket is kept.
const DefaultIdleTTL = 5 * time.Minute

type bucket struct {
	lim   *rate.Limiter
	quota Quota
	seen  time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. Each
// bucket holds Limit tokens and refills Limit per Window, so a burst of
// Limit requests passes and the next is refused.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	idleTTL   time.Duration
	lastSweep time.Time
}

// MemoryOption configures a [MemoryLimiter].
type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) { m.now = now }
}

// WithIdleTTL sets how long an unused bucket is kept before eviction.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(m *MemoryLimiter) { m.idleTTL = d }
}

// NewMemoryLimiter returns an empty in-process limiter.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		idleTTL: DefaultIdleTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSweep = m.now()
	return m
}

// Allow implements [Limiter]. It never returns an error.
func (m *MemoryLimiter) Allow(_ context.Context, key string, quota Quota) (Decision, error) {
	if quota.Unlimited() {
		return Decision{Allowed: true}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)
	b, ok := m.buckets[key]
	if !ok || b.quota != quota {
		every := rate.Every(quota.Window / time.Duration(quota.Limit))
		b = &bucket{lim: rate.NewLimiter(every, quota.Limit), quota: quota}
		m.buckets[key] = b
	}
	b.seen = now

	d := Decision{Limit: quota.Limit}
	if b.lim.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = int(b.lim.TokensAt(now))
		return d, nil
	}
	// Time until one full token is back.
	missing := 1 - b.lim.TokensAt(now)
	d.ResetIn = time.Duration(missing * float64(quota.Window) / float64(quota.Limit))
	return d, nil
}

// Len returns the number of live buckets.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// sweep drops idle buckets at most once per idleTTL. Callers hold m.mu.
func (m *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.idleTTL {
		return
	}
	m.lastSweep = now
	for k, b := range m.buckets {
		if now.Sub(b.seen) > m.idleTTL {
			delete(m.buckets, k)
		}
	}
}

// ===========================================================================
// Redis fixed windows
// ===========================================================================

// WindowCounter counts hits in a fixed window. [*redis.Client] from
// pkg/clients/redis implements it.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// DefaultKeyPrefix namespaces limiter keys in Redis.
const DefaultKeyPrefix = "accessguard:ratelimit:"

// RedisLimiter shares budgets between replicas through Redis fixed-window
// counters. Each key/window pair is one INCR, so concurrent replicas never
// over-admit.
type RedisLimiter struct {
	counter  WindowCounter
	prefix   string
	failOpen bool
}

// NewRedisLimiter returns a limiter backed by counter. With failOpen set,
// a Redis failure admits the request and is logged; otherwise the failure
// is returned to the caller.
func NewRedisLimiter(counter WindowCounter, failOpen bool) *RedisLimiter {
	return &RedisLimiter{counter: counter, prefix: DefaultKeyPrefix, failOpen: failOpen}
}

// Allow implements [Limiter].
func (l *RedisLimiter) Allow(ctx context.Context, key string, quota Quota) (Decision, error) {
	if quota.Unlimited() {
		return Decision{Allowed: true}, nil
	}
	count, ttl, err := l.counter.IncrWindow(ctx, l.prefix+key, quota.Window)
	if err != nil {
		if l.failOpen {
			slog.WarnContext(ctx, "ratelimit: counter unavailable, admitting request",
				"key", key, "error", err)
			return Decision{Allowed: true, Limit: quota.Limit}, nil
		}
		return Decision{}, sserr.Wrap(err, sserr.CodeUnavailableDependency, "rate limiter unavailable")
	}

	d := Decision{Limit: quota.Limit}
	if count <= int64(quota.Limit) {
		d.Allowed = true
		d.Remaining = quota.Limit - int(count)
		if d.Remaining == 0 {
			d.ResetIn = ttl
		}
		return d, nil
	}
	d.ResetIn = ttl
	return d, nil
}
