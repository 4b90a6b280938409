package retry

import (
	"time"
)

// Policy describes how a node's step is attempted
type Policy struct {
	// Retries is the number of additional attempts after the first one
	Retries int

	// Strategy computes the pause between attempts. Nil means Immediate.
	Strategy Strategy

	// Retryable reports whether a failed attempt may be followed by another.
	// Nil means every error is retryable.
	Retryable func(err error) bool

	// OnRetry is called after a failed attempt when another will follow
	OnRetry func(attempt int, err error)
}

// NewPolicy creates a policy that retries immediately
func NewPolicy(retries int) *Policy {
	if retries < 0 {
		retries = 0
	}
	return &Policy{
		Retries:  retries,
		Strategy: Immediate{},
	}
}

// WithStrategy sets the delay strategy
func (p *Policy) WithStrategy(s Strategy) *Policy {
	p.Strategy = s
	return p
}

// WithRetryable sets the predicate deciding which errors are retried
func (p *Policy) WithRetryable(fn func(err error) bool) *Policy {
	p.Retryable = fn
	return p
}

// WithOnRetry sets the retry callback
func (p *Policy) WithOnRetry(fn func(attempt int, err error)) *Policy {
	p.OnRetry = fn
	return p
}

// MaxAttempts is Retries+1
func (p *Policy) MaxAttempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

func (p *Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p *Policy) delay(attempt int) time.Duration {
	if p.Strategy == nil {
		return 0
	}
	return p.Strategy.NextDelay(attempt)
}
