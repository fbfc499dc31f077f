package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tierfetch/internal/crawler"
	"github.com/JakeFAU/tierfetch/internal/progress"
)

const (
	cacheTierLabel = "cache"
	unknownLabel   = "unknown"
)

// PrometheusSink turns batch progress into job and spend metrics. Jobs are
// labeled by final status; fetches by the tier that produced them, or
// "cache" when no provider call was made.
type PrometheusSink struct {
	started   prometheus.Counter
	completed *prometheus.CounterVec
	running   prometheus.Gauge
	runtime   *prometheus.HistogramVec

	fetches  *prometheus.CounterVec
	credits  *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight sync.Map
}

// NewPrometheusSink registers its collectors with reg, or with the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tierfetch_batch_jobs_started_total",
			Help: "Batch jobs picked up by a worker.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierfetch_batch_jobs_completed_total",
			Help: "Batch jobs finished, by final status.",
		}, []string{"result"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tierfetch_batch_jobs_running",
			Help: "Batch jobs started but not yet finished.",
		}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tierfetch_batch_job_runtime_seconds",
			Help:    "Wall time of finished batch jobs, by final status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierfetch_batch_fetches_total",
			Help: "Batch fetches, by final tier and outcome.",
		}, []string{"tier", "outcome"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierfetch_batch_credits_total",
			Help: "Estimated credits spent by batch fetches, by final tier.",
		}, []string{"tier"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierfetch_batch_bytes_total",
			Help: "Content bytes delivered to batch jobs, by site.",
		}, []string{"site"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tierfetch_batch_fetch_duration_seconds",
			Help:    "Batch fetch latency including escalation, by final tier.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"tier"}),
	}
	collectors := []prometheus.Collector{
		s.started, s.completed, s.running, s.runtime,
		s.fetches, s.credits, s.bytes, s.latency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume applies every event in batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.started.Inc()
			if _, loaded := s.inFlight.LoadOrStore(evt.JobID, struct{}{}); !loaded {
				s.running.Inc()
			}
		case progress.StageJobDone, progress.StageJobError:
			result := jobResult(evt)
			s.completed.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runtime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if _, loaded := s.inFlight.LoadAndDelete(evt.JobID); loaded {
				s.running.Dec()
			}
		case progress.StageFetchDone:
			s.observeFetch(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeFetch(evt progress.Event) {
	tier := fetchTier(evt)
	s.fetches.WithLabelValues(tier, evt.Outcome()).Inc()
	if evt.Credits > 0 {
		s.credits.WithLabelValues(tier).Add(float64(evt.Credits))
	}
	if evt.Bytes > 0 {
		site := evt.Site
		if site == "" {
			site = unknownLabel
		}
		s.bytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.latency.WithLabelValues(tier).Observe(evt.Dur.Seconds())
	}
}

// Close is a no-op; collectors stay registered.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobResult reads the final status the worker puts at the front of Note.
func jobResult(evt progress.Event) string {
	status, _, _ := strings.Cut(evt.Note, ":")
	switch crawler.JobStatus(strings.TrimSpace(status)) {
	case crawler.JobStatusSucceeded:
		return string(crawler.JobStatusSucceeded)
	case crawler.JobStatusCanceled:
		return string(crawler.JobStatusCanceled)
	case crawler.JobStatusFailed:
		return string(crawler.JobStatusFailed)
	}
	if evt.Stage == progress.StageJobDone {
		return string(crawler.JobStatusSucceeded)
	}
	return string(crawler.JobStatusFailed)
}

func fetchTier(evt progress.Event) string {
	switch {
	case evt.FromCache:
		return cacheTierLabel
	case evt.Tier == "":
		return unknownLabel
	default:
		return string(evt.Tier)
	}
}
