package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://Example.com/path?q=1": "example.com",
		"http://shop.example.com:8443": "shop.example.com",
		"example.com/path":             "example.com",
		"192.168.1.1":                  "192.168.1.1",
		"http://%":                     "unknown",
		"":                             "unknown",
	}
	for input, want := range cases {
		require.Equal(t, want, SanitizeSite(input), "input %q", input)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := creditsTotal
	Init()
	require.Same(t, first, creditsTotal)
	require.NotNil(t, attemptsTotal)
	require.NotNil(t, httpRequestDurationSeconds)
}

func TestObserveCreditsSkipsZero(t *testing.T) {
	Init()
	counter := creditsTotal.WithLabelValues("metrics-test-tier")
	before := testutil.ToFloat64(counter)

	ObserveCredits("metrics-test-tier", 25)
	ObserveCredits("metrics-test-tier", 75)
	ObserveCredits("metrics-test-tier", 0)
	ObserveCredits("metrics-test-tier", -5)

	require.InDelta(t, 100, testutil.ToFloat64(counter)-before, 0)
}

func TestObserveResultUsesHostLabel(t *testing.T) {
	ObserveResult("https://Metrics-Test.example/a?b=c", "success", 42)
	ObserveResult("https://metrics-test.example/b", "Timeout", 0)

	require.InDelta(t, 1, testutil.ToFloat64(resultsTotal.WithLabelValues("metrics-test.example", "success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(resultsTotal.WithLabelValues("metrics-test.example", "Timeout")), 0)
	require.InDelta(t, 42, testutil.ToFloat64(responseBytesTotal.WithLabelValues("metrics-test.example")), 0)
}

func TestObserveCacheLookupAndJobs(t *testing.T) {
	Init()
	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))
	canceled := testutil.ToFloat64(jobsTotal.WithLabelValues("canceled"))

	ObserveCacheLookup(true)
	ObserveCacheLookup(false)
	ObserveCacheLookup(false)
	ObserveJob("canceled")

	require.InDelta(t, 1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))-hits, 0)
	require.InDelta(t, 2, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))-misses, 0)
	require.InDelta(t, 1, testutil.ToFloat64(jobsTotal.WithLabelValues("canceled"))-canceled, 0)
}

func TestObserveRateLimitDelay(t *testing.T) {
	Init()
	ObserveRateLimitDelay("metrics-test.example", 250*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, seed := range []string{"http://example.com", "https://app.scrapingbee.com/api/v1/", "ftp://example.com", ":"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		if SanitizeSite(raw) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty label", raw)
		}
	})
}
