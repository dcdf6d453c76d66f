package middleware

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/juju/ratelimit"

	"github.com/validrx/validrx/internal/observability/metrics"
)

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	rate     float64
	capacity int64
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*ratelimit.Bucket
}

// NewRateLimiter refills each client bucket at rate tokens/s up to capacity
func NewRateLimiter(rate float64, capacity int64, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		rate:     rate,
		capacity: capacity,
		metrics:  m,
		clients:  make(map[string]*ratelimit.Bucket),
	}
}

func (rl *RateLimiter) bucket(client string) *ratelimit.Bucket {
	rl.mu.RLock()
	b, ok := rl.clients[client]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.clients[client]; !ok {
		b = ratelimit.NewBucketWithRate(rl.rate, rl.capacity)
		rl.clients[client] = b
	}
	return b
}

// Sweep drops buckets that have refilled completely and returns how many were removed
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for client, b := range rl.clients {
		if b.Available() == b.Capacity() {
			delete(rl.clients, client)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked buckets
func (rl *RateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

// Middleware rejects requests once the client's bucket is empty.
// Clients are identified by the authenticated client id, falling back to the remote address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	limit := strconv.FormatInt(rl.capacity, 10)
	rate := strconv.FormatFloat(rl.rate, 'f', -1, 64)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := GetClientID(r.Context())
		if client == "" {
			client = r.RemoteAddr
		}

		b := rl.bucket(client)
		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Rate", rate)

		if b.TakeAvailable(1) < 1 {
			if rl.metrics != nil {
				rl.metrics.RateLimited.WithLabelValues(client).Inc()
			}
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(b.Available(), 10))
		next.ServeHTTP(w, r)
	})
}
