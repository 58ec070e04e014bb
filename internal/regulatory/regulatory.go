// Package regulatory holds the types shared by the CFR, DRS, and APS
// adapters, plus the per-adapter rate limiter they each embed.
package regulatory

import (
	"sync"
	"time"
)

// Document is the normalized shape every regulatory adapter returns,
// regardless of upstream wire format.
type Document struct {
	Title    string
	Body     string
	Citation string
	Metadata map[string]string
}

// Limiter is a fixed-window requests-per-second budget for one adapter
// instance. Adapted from the pack's mesh-node rate limiter; generalized
// from a fixed window/rate pair to whatever requests-per-second budget
// each regulatory source's terms require.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
}

// NewLimiter creates a Limiter allowing rate requests per window.
func NewLimiter(rate int, window time.Duration) *Limiter {
	return &Limiter{rate: rate, window: window, windowStart: time.Now()}
}

// Allow reports whether a request may proceed under the current budget.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}
	l.count++
	return l.count <= l.rate
}
