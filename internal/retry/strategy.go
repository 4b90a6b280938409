package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the pause before the attempt following attempt
type Strategy interface {
	NextDelay(attempt int) time.Duration
}

// Immediate retries without waiting
type Immediate struct{}

// NextDelay always returns 0
func (Immediate) NextDelay(attempt int) time.Duration {
	return 0
}

// ExponentialBackoff implements exponential backoff retry strategy
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// NewExponentialBackoff creates a new exponential backoff strategy
func NewExponentialBackoff(baseDelay, maxDelay time.Duration, jitter bool) *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		Multiplier: 2.0,
		Jitter:     jitter,
	}
}

// NextDelay returns baseDelay * multiplier^(attempt-1), capped at MaxDelay
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.BaseDelay) * math.Pow(e.Multiplier, float64(attempt-1))
	if delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}
	if e.Jitter {
		delay = jitter(delay)
	}
	return time.Duration(delay)
}

// randomize ±25%
func jitter(d float64) float64 {
	return d * (0.75 + rand.Float64()*0.5)
}
