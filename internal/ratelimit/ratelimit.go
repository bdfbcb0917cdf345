// Package ratelimit provides fixed-window rate limiting, used by the
// dispatcher to pace task executions per worker.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a simple fixed-window rate limiter for a single entity.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: time.Now(),
	}
}

// Allow returns true if the request is within the rate limit.
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

// PerWorker keys independent Limiters by worker ID, created lazily on first
// use. Each worker gets its own window so one noisy worker cannot consume
// another's budget.
type PerWorker struct {
	mu       sync.Mutex
	rate     int
	window   time.Duration
	limiters map[string]*Limiter
}

// NewPerWorker creates a PerWorker registry allowing rate executions per
// window for each worker.
func NewPerWorker(rate int, window time.Duration) *PerWorker {
	return &PerWorker{
		rate:     rate,
		window:   window,
		limiters: make(map[string]*Limiter),
	}
}

// Allow returns true if the worker is within its rate limit.
func (p *PerWorker) Allow(workerID string) bool {
	p.mu.Lock()
	l, ok := p.limiters[workerID]
	if !ok {
		l = New(p.rate, p.window)
		p.limiters[workerID] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
