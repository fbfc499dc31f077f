// Package tier decides which proxy tiers a request is attempted with and what
// each attempt costs.
package tier

import (
	"github.com/JakeFAU/tierfetch/internal/crawler"
)

// DefaultLadder is the escalation order used when no tier is pinned.
var DefaultLadder = []crawler.Tier{crawler.TierNone, crawler.TierPremium, crawler.TierStealth}

// Costs maps each tier to the credits one provider call is billed.
type Costs map[crawler.Tier]int

// DefaultCosts mirrors the provider's per-call pricing.
func DefaultCosts() Costs {
	return Costs{
		crawler.TierNone:    1,
		crawler.TierPremium: 25,
		crawler.TierStealth: 75,
		crawler.TierCustom:  1,
	}
}

// Selector plans tier sequences and prices attempts.
type Selector struct {
	costs Costs
}

// NewSelector builds a Selector, filling unset costs from DefaultCosts.
func NewSelector(costs Costs) *Selector {
	merged := DefaultCosts()
	for t, c := range costs {
		if c > 0 {
			merged[t] = c
		}
	}
	return &Selector{costs: merged}
}

// Cost returns the credits billed for one call at t.
func (s *Selector) Cost(t crawler.Tier) int {
	return s.costs[t]
}

// Plan returns the ordered tiers to attempt for req. No tier appears twice.
//
// A force_mode pins a single tier and a custom tier is attempted alone. Otherwise
// the default ladder is walked from the requested tier upwards; stealth is left
// out when forward_headers_pure is set since it cannot run without render_js.
func (s *Selector) Plan(req crawler.FetchRequest) []crawler.Tier {
	if req.ForceMode != "" {
		return []crawler.Tier{req.ForceMode}
	}
	start := req.EffectiveTier()
	if start == crawler.TierCustom {
		return []crawler.Tier{crawler.TierCustom}
	}

	plan := make([]crawler.Tier, 0, len(DefaultLadder))
	started := false
	for _, t := range DefaultLadder {
		if t == start {
			started = true
		}
		if !started {
			continue
		}
		if t == crawler.TierStealth && req.ForwardHeadersPure && t != start {
			continue
		}
		plan = append(plan, t)
	}
	return plan
}

// Retryable reports whether a failure of kind allows moving to the next tier.
func Retryable(kind crawler.ErrorKind) bool {
	switch kind {
	case crawler.ErrorKindRateLimited, crawler.ErrorKindNetwork, crawler.ErrorKindGeneric:
		return true
	default:
		return false
	}
}

// RetrySameTier reports whether kind earns one more call at the current tier.
func RetrySameTier(kind crawler.ErrorKind) bool {
	return kind == crawler.ErrorKindRateLimited
}
