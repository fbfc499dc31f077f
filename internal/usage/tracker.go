// Package usage keeps process-lifetime provider usage counters.
package usage

import (
	"sync/atomic"

	"github.com/JakeFAU/tierfetch/internal/crawler"
	"github.com/JakeFAU/tierfetch/internal/metrics"
)

// Tracker implements crawler.UsageRecorder with lock-free counters.
// Counters only ever grow; there is no reset.
type Tracker struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	credits   atomic.Int64
}

// NewTracker returns a zeroed Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordAttempt counts one provider call and its billed credits.
func (t *Tracker) RecordAttempt(tier crawler.Tier, costCredits int) {
	t.requests.Add(1)
	if costCredits > 0 {
		t.credits.Add(int64(costCredits))
	}
	metrics.ObserveCredits(string(tier), costCredits)
}

// RecordOutcome counts the terminal outcome of one request.
func (t *Tracker) RecordOutcome(success bool) {
	if success {
		t.successes.Add(1)
		return
	}
	t.failures.Add(1)
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() crawler.UsageStats {
	return crawler.UsageStats{
		Requests:             t.requests.Load(),
		Successes:            t.successes.Load(),
		Failures:             t.failures.Load(),
		EstimatedCostCredits: t.credits.Load(),
	}
}
