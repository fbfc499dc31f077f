package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/tierfetch/internal/crawler"
	"github.com/JakeFAU/tierfetch/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	jobID := "job-1"
	batch := []progress.Event{
		{JobID: jobID, TS: time.Now(), Stage: progress.StageJobStart},
		{
			JobID:   jobID,
			TS:      time.Now().Add(10 * time.Second),
			Stage:   progress.StageFetchDone,
			Site:    "example.com",
			Tier:    crawler.TierPremium,
			Credits: 26,
			Bytes:   1024,
			Dur:     2 * time.Second,
		},
		{
			JobID:     jobID,
			TS:        time.Now().Add(12 * time.Second),
			Stage:     progress.StageFetchDone,
			Site:      "example.com",
			Tier:      crawler.TierNone,
			ErrorKind: crawler.ErrorKindNetwork,
			Credits:   1,
		},
		{JobID: jobID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageJobDone, Dur: 15 * time.Second, Note: "succeeded"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.started))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.completed.WithLabelValues("succeeded")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.completed.WithLabelValues("failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.running))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("premium", "success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("none", "NetworkError")), 1e-9)
	require.InDelta(t, 26.0, testutil.ToFloat64(sink.credits.WithLabelValues("premium")), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.bytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.latency, "tierfetch_batch_fetch_duration_seconds"))
}

func TestPrometheusSinkLabelsCacheHits(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		JobID:     "job-2",
		TS:        time.Now(),
		Stage:     progress.StageFetchDone,
		Site:      "example.com",
		Tier:      crawler.TierNone,
		FromCache: true,
	}}))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("cache", "success")), 1e-9)
}

func TestPrometheusSinkTracksRunningJobs(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{JobID: "a", TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: "a", TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: "b", TS: time.Now(), Stage: progress.StageJobStart},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.running))

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{JobID: "a", TS: time.Now(), Stage: progress.StageJobError, Dur: time.Second, Note: "canceled: shutdown"},
		{JobID: "unknown", TS: time.Now(), Stage: progress.StageJobDone},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.running))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.completed.WithLabelValues("canceled")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.completed.WithLabelValues("succeeded")))

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{JobID: "b", TS: time.Now(), Stage: progress.StageJobError},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.running))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.completed.WithLabelValues("failed")))
}

func TestNewPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesFetchFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-3", TS: time.Now(), Stage: progress.StageJobStart},
		{
			JobID:     "job-3",
			TS:        time.Now(),
			Stage:     progress.StageFetchDone,
			Site:      "example.com",
			URL:       "https://example.com",
			Tier:      crawler.TierStealth,
			ErrorKind: crawler.ErrorKindGeneric,
			Credits:   101,
			Note:      "blocked at every tier",
		},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.NotContains(t, entries[0].ContextMap(), "tier")

	fields := entries[1].ContextMap()
	require.Equal(t, "job-3", fields["job_id"])
	require.Equal(t, "stealth", fields["tier"])
	require.Equal(t, "GenericFailure", fields["outcome"])
	require.Equal(t, int64(101), fields["credits"])
	require.Equal(t, "blocked at every tier", fields["note"])
}
