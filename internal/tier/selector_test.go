package tier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

func TestSelectorPlan(t *testing.T) {
	t.Parallel()

	s := NewSelector(nil)
	tests := []struct {
		name string
		req  crawler.FetchRequest
		want []crawler.Tier
	}{
		{
			name: "default ladder",
			req:  crawler.FetchRequest{},
			want: []crawler.Tier{crawler.TierNone, crawler.TierPremium, crawler.TierStealth},
		},
		{
			name: "start at premium",
			req:  crawler.FetchRequest{ProxyTier: crawler.TierPremium},
			want: []crawler.Tier{crawler.TierPremium, crawler.TierStealth},
		},
		{
			name: "start at stealth",
			req:  crawler.FetchRequest{ProxyTier: crawler.TierStealth, RenderJS: true},
			want: []crawler.Tier{crawler.TierStealth},
		},
		{
			name: "custom alone",
			req:  crawler.FetchRequest{ProxyTier: crawler.TierCustom},
			want: []crawler.Tier{crawler.TierCustom},
		},
		{
			name: "force mode pins",
			req:  crawler.FetchRequest{ForceMode: crawler.TierPremium},
			want: []crawler.Tier{crawler.TierPremium},
		},
		{
			name: "pure forwarding skips stealth",
			req:  crawler.FetchRequest{ForwardHeadersPure: true},
			want: []crawler.Tier{crawler.TierNone, crawler.TierPremium},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, s.Plan(tt.req))
		})
	}
}

func TestSelectorPlanNeverRepeatsTier(t *testing.T) {
	t.Parallel()

	s := NewSelector(nil)
	for _, start := range []crawler.Tier{"", crawler.TierNone, crawler.TierPremium, crawler.TierStealth, crawler.TierCustom} {
		for _, force := range []crawler.Tier{"", crawler.TierNone, crawler.TierPremium, crawler.TierStealth, crawler.TierCustom} {
			plan := s.Plan(crawler.FetchRequest{ProxyTier: start, ForceMode: force, RenderJS: true})
			seen := map[crawler.Tier]bool{}
			for _, tr := range plan {
				require.False(t, seen[tr], "tier %s repeated in %v", tr, plan)
				seen[tr] = true
			}
			require.NotEmpty(t, plan)
		}
	}
}

func TestSelectorCosts(t *testing.T) {
	t.Parallel()

	s := NewSelector(nil)
	total := 0
	for _, tr := range DefaultLadder {
		total += s.Cost(tr)
	}
	require.Equal(t, 101, total)

	custom := NewSelector(Costs{crawler.TierPremium: 10, crawler.TierStealth: 0})
	require.Equal(t, 10, custom.Cost(crawler.TierPremium))
	require.Equal(t, 75, custom.Cost(crawler.TierStealth))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	require.True(t, Retryable(crawler.ErrorKindRateLimited))
	require.True(t, Retryable(crawler.ErrorKindNetwork))
	require.True(t, Retryable(crawler.ErrorKindGeneric))
	require.False(t, Retryable(crawler.ErrorKindUnauthorized))
	require.False(t, Retryable(crawler.ErrorKindPayloadTooLarge))
	require.False(t, Retryable(crawler.ErrorKindConstraintViolation))
	require.False(t, Retryable(crawler.ErrorKindTimeout))
	require.True(t, RetrySameTier(crawler.ErrorKindRateLimited))
	require.False(t, RetrySameTier(crawler.ErrorKindGeneric))
}
