package gateway

import (
	"sync"
	"time"

	"github.com/harun/deepchat/pkg/clock"
)

const rateWindow = time.Minute

// RateLimiter is a per-client sliding window limiter. A limit of zero or
// less disables it.
type RateLimiter struct {
	mu                sync.Mutex
	clients           map[string][]time.Time
	maxRequestsPerMin int
	clock             clock.Clock
	cleanupInterval   time.Duration
	stopCleanup       chan struct{}
	stopOnce          sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(maxRequestsPerMinute int, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	rl := &RateLimiter{
		clients:           make(map[string][]time.Time),
		maxRequestsPerMin: maxRequestsPerMinute,
		clock:             clk,
		cleanupInterval:   5 * time.Minute,
		stopCleanup:       make(chan struct{}),
	}

	if rl.Enabled() {
		go rl.runCleanup()
	}
	return rl
}

// Enabled reports whether requests are limited at all.
func (rl *RateLimiter) Enabled() bool {
	return rl.maxRequestsPerMin > 0
}

// Allow records a request from client and reports whether it is within the
// limit. Rejected requests are not recorded.
func (rl *RateLimiter) Allow(client string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	requests := prune(rl.clients[client], now)
	if len(requests) >= rl.maxRequestsPerMin {
		rl.clients[client] = requests
		return false
	}
	rl.clients[client] = append(requests, now)
	return true
}

// RetryAfter returns the whole seconds until client may send again.
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	requests := rl.clients[client]
	if len(requests) == 0 {
		return 0
	}

	wait := rateWindow - rl.clock.Now().Sub(requests[0])
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

// Clients returns the number of clients with requests in the window.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func prune(requests []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(requests) && !requests[i].After(cutoff) {
		i++
	}
	return requests[i:]
}

func (rl *RateLimiter) runCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for client, requests := range rl.clients {
		if requests = prune(requests, now); len(requests) == 0 {
			delete(rl.clients, client)
		} else {
			rl.clients[client] = requests
		}
	}
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
