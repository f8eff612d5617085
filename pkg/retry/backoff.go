package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential backoff durations with jitter
type Backoff struct {
	policy Policy
}

// NewBackoff creates a backoff calculator for the given policy
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the backoff duration for the given attempt (1-based).
// Full jitter is applied to avoid thundering-herd retries against a
// struggling RPC endpoint.
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	interval := float64(b.policy.InitialInterval) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if interval > float64(b.policy.MaxInterval) {
		interval = float64(b.policy.MaxInterval)
	}

	// Jitter in [interval/2, interval)
	half := interval / 2
	return time.Duration(half + rand.Float64()*half)
}
