package simple

import (
	"context"
	"errors"
	"testing"
)

// TestPolicyWait ensures the pass-through policy only reports context errors.
func TestPolicyWait(t *testing.T) {
	t.Parallel()

	p := New()
	if err := p.Wait(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx, "https://example.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
