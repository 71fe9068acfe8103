package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of a single Allow call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before retrying
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts attempts per key in fixed windows
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// ErrCapacityExceeded is returned by MemoryLimiter when it tracks too many keys.
// The accompanying Decision denies the attempt until the soonest window ends.
var ErrCapacityExceeded = errors.New("rate limiter capacity exceeded")

// LoginKey builds the limiter key for login attempts of an email from an address
func LoginKey(email, ip string) string {
	return "ratelimit:login:" + strings.ToLower(strings.TrimSpace(email)) + ":" + ip
}

// MemoryLimiter is a process-local fixed-window limiter
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*bucket
	maxKeys int
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// MemoryOption configures a MemoryLimiter
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMaxKeys caps the number of tracked keys
func WithMaxKeys(n int) MemoryOption {
	return func(m *MemoryLimiter) {
		if n > 0 {
			m.maxKeys = n
		}
	}
}

// NewMemoryLimiter creates an empty MemoryLimiter
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		now:     time.Now,
		buckets: make(map[string]*bucket),
		maxKeys: 10000,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow consumes one attempt for key. A non-positive limit disables limiting.
func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if window <= 0 {
		window = time.Second
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if ok && !now.Before(b.windowEnd) {
		delete(m.buckets, key)
		ok = false
	}
	if !ok {
		if len(m.buckets) >= m.maxKeys {
			if soonest := m.gc(now); len(m.buckets) >= m.maxKeys {
				return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: soonest}, ErrCapacityExceeded
			}
		}
		b = &bucket{windowEnd: now.Add(window)}
		m.buckets[key] = b
	}

	if b.count >= limit {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: b.windowEnd}, nil
	}
	b.count++
	return Decision{Allowed: true, Limit: limit, Remaining: limit - b.count, ResetAt: b.windowEnd}, nil
}

// Reset forgets the counter for key
func (m *MemoryLimiter) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
}

// gc drops expired buckets and returns the earliest window end among the rest
func (m *MemoryLimiter) gc(now time.Time) time.Time {
	var soonest time.Time
	for key, b := range m.buckets {
		if !now.Before(b.windowEnd) {
			delete(m.buckets, key)
			continue
		}
		if soonest.IsZero() || b.windowEnd.Before(soonest) {
			soonest = b.windowEnd
		}
	}
	return soonest
}
