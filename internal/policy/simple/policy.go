// Package simple contains a pass-through outbound limiter.
package simple

import "context"

// Policy never delays provider calls. It stands in for the token bucket
// limiter when rate limiting is disabled.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns immediately unless ctx is already done.
func (Policy) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
