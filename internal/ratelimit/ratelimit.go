// Package ratelimit implements a fixed-60-second-window per-key counter
// for gating auth attempts. A nil *Limiter is valid and always allows.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Checker is the allow/deny contract HandleUserConn rate-limits against.
// Both Limiter and TokenBucket satisfy it.
type Checker interface {
	CheckLimit(key string) (bool, error)
}

// Limiter is a per-key fixed-window allow/deny check. Each key gets its
// own window that resets on the key's first hit after expiry, mirroring
// the original's Redis `INCR` + `EXPIRE`-on-first-increment pattern.
type Limiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	limit      int
	windowSize time.Duration
	now        func() time.Time
}

type window struct {
	count     int
	expiresAt time.Time
}

// New returns a Limiter allowing limitPerWindow hits per 60-second
// window per key.
func New(limitPerWindow int) *Limiter {
	return &Limiter{
		windows:    make(map[string]*window),
		limit:      limitPerWindow,
		windowSize: 60 * time.Second,
		now:        time.Now,
	}
}

// CheckLimit increments key's counter and reports whether the request is
// allowed. A nil receiver always allows (absent limiter = always allow,
// per the core's optionality contract).
func (l *Limiter) CheckLimit(key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.expiresAt) {
		w = &window{count: 0, expiresAt: now.Add(l.windowSize)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.limit, nil
}

// Count returns the current window's hit count for key (0 if unset or
// expired), mirroring the original's get_count.
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || l.now().After(w.expiresAt) {
		return 0
	}
	return w.count
}

// Reset clears key's window entirely.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// TokenBucket is an alternative implementation built directly on
// golang.org/x/time/rate, useful when a smoothing bucket, rather than a
// hard fixed window, better fits a deployment's traffic shape, e.g.
// metering outbound PTY bandwidth per session. It satisfies the same
// CheckLimit-shaped contract via Allow.
type TokenBucket struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewTokenBucket builds a per-key token bucket allowing r events/sec with
// the given burst.
func NewTokenBucket(r float64, burst int) *TokenBucket {
	return &TokenBucket{limiters: make(map[string]*rate.Limiter), r: rate.Limit(r), burst: burst}
}

// Allow reports whether key's bucket has a token available, consuming
// one if so.
func (b *TokenBucket) Allow(key string) bool {
	b.mu.Lock()
	lim, ok := b.limiters[key]
	if !ok {
		lim = rate.NewLimiter(b.r, b.burst)
		b.limiters[key] = lim
	}
	b.mu.Unlock()
	return lim.Allow()
}

// CheckLimit adapts Allow to the Checker contract so a TokenBucket can
// be used anywhere a Limiter is, including as the user-connection rate
// limiter in cmd/serverd.
func (b *TokenBucket) CheckLimit(key string) (bool, error) {
	return b.Allow(key), nil
}
