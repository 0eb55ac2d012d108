package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client key.
type rateLimiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

func newRateLimiter(perSec float64, burst int) *rateLimiter {
	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &rateLimiter{
		perSec:  rate.Limit(perSec),
		burst:   burst,
		clients: map[string]*rate.Limiter{},
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	lim, ok := rl.clients[key]
	if !ok {
		lim = rate.NewLimiter(rl.perSec, rl.burst)
		rl.clients[key] = lim
		// Unbounded growth is capped crudely: reset the table when it gets
		// large. Buckets refill fast enough that this is harmless.
		if len(rl.clients) > 10_000 {
			rl.clients = map[string]*rate.Limiter{key: lim}
		}
	}
	rl.mu.Unlock()
	return lim.Allow()
}
