package middleware

import (
	"sync"
	"time"

	"github.com/reportalin/reportalin-mcp/internal/metrics"
)

// RateLimiter implements a per-client token bucket with fractional refill.
// Client id is the authenticated principal when available, else the remote
// address.
type RateLimiter struct {
	mu            sync.Mutex
	clients       map[string]*bucket
	capacity      float64
	refillPerSec  float64
	idleEviction  time.Duration
	cleanupTicker *time.Ticker
	stopOnce      sync.Once
	stopCh        chan struct{}
	now           func() time.Time // swapped in tests
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // only set when denied
}

// NewRateLimiter creates a limiter with the given bucket capacity and
// refill rate in tokens per second.
func NewRateLimiter(capacity int, refillPerSec float64) *RateLimiter {
	rl := &RateLimiter{
		clients:       make(map[string]*bucket),
		capacity:      float64(capacity),
		refillPerSec:  refillPerSec,
		idleEviction:  10 * time.Minute,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}

	go rl.cleanup()

	return rl
}

// Check refills the client's bucket, then either consumes one token or
// computes how long until one is available.
func (rl *RateLimiter) Check(clientID string) Decision {
	b := rl.bucketFor(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = minFloat(rl.capacity, b.tokens+elapsed*rl.refillPerSec)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Remaining: int(b.tokens)}
	}

	metrics.RateLimitDenials.Inc()
	retry := time.Duration((1 - b.tokens) / rl.refillPerSec * float64(time.Second))
	return Decision{Allowed: false, RetryAfter: retry}
}

// Remaining returns the whole tokens currently available without consuming.
func (rl *RateLimiter) Remaining(clientID string) int {
	b := rl.bucketFor(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := rl.now().Sub(b.lastRefill).Seconds()
	return int(minFloat(rl.capacity, b.tokens+elapsed*rl.refillPerSec))
}

// Reset restores a client's bucket to full capacity.
func (rl *RateLimiter) Reset(clientID string) {
	b := rl.bucketFor(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = rl.capacity
	b.lastRefill = rl.now()
}

// bucketFor returns the bucket for clientID, creating a full one on first
// contact.
func (rl *RateLimiter) bucketFor(clientID string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[clientID]
	if !ok {
		b = &bucket{tokens: rl.capacity, lastRefill: rl.now()}
		rl.clients[clientID] = b
	}
	return b
}

// cleanup evicts buckets idle longer than the eviction interval.
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.stopCh:
			return
		case <-rl.cleanupTicker.C:
			rl.mu.Lock()
			now := rl.now()
			for id, b := range rl.clients {
				b.mu.Lock()
				idle := now.Sub(b.lastRefill)
				b.mu.Unlock()
				if idle > rl.idleEviction {
					delete(rl.clients, id)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Stop halts the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCh)
	})
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
