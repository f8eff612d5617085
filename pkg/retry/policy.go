package retry

import (
	"errors"
	"time"
)

// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy defines retry behavior
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// RetryableFunc overrides default error classification when set
	RetryableFunc func(error) bool
}

// DefaultPolicy returns a conservative policy for on-chain RPC calls:
// a small bounded number of attempts with exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Validate checks the policy for invalid values
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if p.InitialInterval <= 0 {
		return errors.New("initial interval must be > 0")
	}
	if p.MaxInterval < p.InitialInterval {
		return errors.New("max interval must be >= initial interval")
	}
	if p.Multiplier < 1.0 {
		return errors.New("multiplier must be >= 1.0")
	}
	return nil
}
