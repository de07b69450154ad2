package http

import (
	"sync"
	"time"
)

// rateLimiter counts requests per key in fixed one-minute windows.
type rateLimiter struct {
	limit int
	reset *time.Ticker

	mu       sync.Mutex
	counters map[string]int
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		return &rateLimiter{limit: 0}
	}
	return &rateLimiter{
		limit:    limit,
		reset:    time.NewTicker(time.Minute),
		counters: make(map[string]int),
	}
}

func (r *rateLimiter) allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key]++
	return r.counters[key] <= r.limit
}

func (r *rateLimiter) clear() {
	r.mu.Lock()
	clear(r.counters)
	r.mu.Unlock()
}

func (r *rateLimiter) startReset(stop <-chan struct{}) {
	if r == nil || r.reset == nil {
		return
	}
	go func() {
		for {
			select {
			case <-r.reset.C:
				r.clear()
			case <-stop:
				r.reset.Stop()
				return
			}
		}
	}()
}
