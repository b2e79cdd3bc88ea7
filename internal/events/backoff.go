package events

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from Initial, capped
// at Max, with equal jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is used by every transport unless overridden.
var DefaultBackoff = Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}

// Delay returns the wait before reconnect attempt n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := b.Initial
	for i := 1; i < n && base < b.Max; i++ {
		base *= 2
	}
	if base > b.Max {
		base = b.Max
	}
	if base <= 0 {
		return 0
	}
	half := base / 2
	return half + rand.N(half+1)
}
