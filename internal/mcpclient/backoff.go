package mcpclient

import (
	"math/rand"
	"sync"
	"time"
)

const (
	backoffBase   = 500 * time.Millisecond
	backoffCap    = 30 * time.Second
	backoffJitter = 0.2
)

// backoff produces exponential reconnect delays with ±20% jitter.
type backoff struct {
	base time.Duration
	cap  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

func newBackoff() *backoff {
	return &backoff{
		base: backoffBase,
		cap:  backoffCap,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// delay returns the wait before reconnect attempt n (0-based).
func (b *backoff) delay(attempt int) time.Duration {
	d := b.base
	for i := 0; i < attempt && d < b.cap; i++ {
		d *= 2
	}
	if d > b.cap {
		d = b.cap
	}

	b.mu.Lock()
	factor := 1 + backoffJitter*(2*b.rand.Float64()-1)
	b.mu.Unlock()

	return time.Duration(float64(d) * factor)
}
