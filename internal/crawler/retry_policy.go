package crawler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// ExponentialBackoff computes jittered waits before a same-tier retry.
type ExponentialBackoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialBackoff builds a backoff starting at base and capped at max.
func NewExponentialBackoff(base, maxDelay time.Duration) *ExponentialBackoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &ExponentialBackoff{
		baseDelay: base,
		maxDelay:  maxDelay,
	}
}

// Backoff returns the wait duration before retry number attempt (zero-based).
// The result lies in [delay/2, delay).
func (p *ExponentialBackoff) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialBackoff) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
