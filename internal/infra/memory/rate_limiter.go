package memory

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	reset time.Time
}

// RateLimiter is the in-process counterpart of the Redis fixed-window limiter.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: map[string]window{}, now: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, win time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	w := r.windows[key]
	if !now.Before(w.reset) {
		w = window{reset: now.Add(win)}
	}
	w.count++
	r.windows[key] = w
	return w.count <= limit, nil
}
