// Package dispatcher runs a fetch request through the proxy tier ladder.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tierfetch/internal/cache"
	"github.com/JakeFAU/tierfetch/internal/clock/system"
	"github.com/JakeFAU/tierfetch/internal/crawler"
	"github.com/JakeFAU/tierfetch/internal/metrics"
	"github.com/JakeFAU/tierfetch/internal/normalize"
	"github.com/JakeFAU/tierfetch/internal/tier"
)

const tracerName = "github.com/JakeFAU/tierfetch/internal/dispatcher"

// Config controls retry pacing and completion notifications.
type Config struct {
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Topic receives one completion message per terminal result when a Publisher is set.
	Topic string
}

// Deps are the collaborators a Dispatcher calls. Client, Selector, Normalizer and
// Usage are required; the rest are optional.
type Deps struct {
	Client     crawler.ProviderClient
	Selector   *tier.Selector
	Normalizer *normalize.Normalizer
	Usage      crawler.UsageRecorder
	Cache      *cache.Cache
	Attempts   crawler.AttemptStore
	Publisher  crawler.Publisher
	Limiter    crawler.Limiter
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	// Render flags successful unrendered responses that need render_js.
	Render RenderAdvisor
	// Tracing defaults to the global otel provider.
	Tracing trace.TracerProvider
}

// Dispatcher validates a request, walks its tier plan and returns one terminal result.
// It holds no per-request state and is safe for concurrent use.
type Dispatcher struct {
	deps    Deps
	cfg     Config
	backoff *crawler.ExponentialBackoff
	tracer  trace.Tracer
	logger  *zap.Logger
}

// RenderAdvisor inspects a successful provider response.
type RenderAdvisor interface {
	ShouldRender(resp crawler.ProviderResponse) bool
}

// New builds a Dispatcher.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	switch {
	case deps.Client == nil:
		return nil, errors.New("provider client is required")
	case deps.Selector == nil:
		return nil, errors.New("tier selector is required")
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case deps.Usage == nil:
		return nil, errors.New("usage recorder is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Tracing == nil {
		deps.Tracing = otel.GetTracerProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		deps:    deps,
		cfg:     cfg,
		backoff: crawler.NewExponentialBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		tracer:  deps.Tracing.Tracer(tracerName),
		logger:  logger.Named("dispatcher"),
	}, nil
}

// Usage exposes the recorder's current snapshot.
func (d *Dispatcher) Usage() crawler.UsageStats {
	return d.deps.Usage.Snapshot()
}

// run carries the per-request state through the attempt loop.
type run struct {
	requestID string
	req       crawler.FetchRequest
	attempts  []crawler.Attempt
	cost      int
}

// Dispatch serves req and always returns a result; failures carry an error kind and message.
func (d *Dispatcher) Dispatch(ctx context.Context, req crawler.FetchRequest) crawler.FetchResult {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Dispatch", trace.WithAttributes(
		attribute.String("fetch.url", req.URL),
		attribute.String("fetch.proxy_tier", string(req.EffectiveTier())),
	))
	defer span.End()

	r := &run{requestID: d.newID(), req: req}
	logger := d.logger.With(zap.String("request_id", r.requestID), zap.String("url", req.URL))

	if _, err := crawler.ValidateRequest(req); err != nil {
		logger.Info("request rejected", zap.Error(err))
		result := d.failure(r, err)
		d.finish(ctx, span, result)
		return result
	}

	var fingerprint string
	if d.deps.Cache != nil {
		cached, fp, hit := d.lookup(ctx, req, logger)
		if hit {
			cached.RequestID = r.requestID
			cached.FromCache = true
			cached.Attempts = nil
			d.finish(ctx, span, cached)
			logger.Debug("served from cache", zap.String("fingerprint", fp))
			return cached
		}
		fingerprint = fp
	}

	result := d.escalate(ctx, r, logger)
	result.Fingerprint = fingerprint
	d.deps.Usage.RecordOutcome(result.Success)

	if result.Success && fingerprint != "" {
		if _, err := d.deps.Cache.Put(ctx, fingerprint, result); err != nil {
			logger.Warn("cache write failed", zap.Error(err))
		}
	}
	d.publish(ctx, result, logger)
	d.finish(ctx, span, result)

	logger.Info("fetch complete",
		zap.Bool("success", result.Success),
		zap.String("tier_used", string(result.TierUsed)),
		zap.String("error_kind", string(result.ErrorKind)),
		zap.Int("attempts", len(result.Attempts)),
		zap.Int("size_bytes", result.SizeBytes),
	)
	return result
}

// escalate walks the tier plan until success, a fatal error or exhaustion.
func (d *Dispatcher) escalate(ctx context.Context, r *run, logger *zap.Logger) crawler.FetchResult {
	var lastErr error
	for _, t := range d.deps.Selector.Plan(r.req) {
		resp, err := d.attemptTier(ctx, r, t, logger)
		if err == nil {
			normalized, normErr := d.deps.Normalizer.Normalize(r.req, resp)
			if normErr != nil {
				return d.failure(r, normErr)
			}
			result := d.success(r, t, normalized)
			if d.deps.Render != nil && !r.req.RenderJS && t != crawler.TierStealth && !r.req.DownloadFile {
				result.RenderSuggested = d.deps.Render.ShouldRender(resp)
			}
			return result
		}
		lastErr = err
		kind := crawler.KindOf(err)
		if !tier.Retryable(kind) {
			return d.failure(r, err)
		}
		logger.Info("escalating tier",
			zap.String("from", string(t)),
			zap.String("error_kind", string(kind)),
		)
	}
	if lastErr == nil {
		lastErr = crawler.NewError(crawler.ErrorKindGeneric, "no proxy tier available for request")
	}
	return d.failure(r, lastErr)
}

// attemptTier calls the provider at t, retrying once at the same tier when rate limited.
func (d *Dispatcher) attemptTier(
	ctx context.Context,
	r *run,
	t crawler.Tier,
	logger *zap.Logger,
) (crawler.ProviderResponse, error) {
	resp, err := d.attempt(ctx, r, t, false)
	if err == nil || !tier.RetrySameTier(crawler.KindOf(err)) {
		return resp, err
	}
	wait := d.backoff.Backoff(0)
	logger.Info("rate limited, retrying same tier",
		zap.String("tier", string(t)),
		zap.Duration("backoff", wait),
	)
	if sleepErr := sleep(ctx, wait); sleepErr != nil {
		return resp, crawler.WrapError(crawler.ErrorKindTimeout, sleepErr, "request deadline exceeded during backoff")
	}
	return d.attempt(ctx, r, t, true)
}

// attempt performs exactly one provider call and books it.
func (d *Dispatcher) attempt(ctx context.Context, r *run, t crawler.Tier, retry bool) (crawler.ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return crawler.ProviderResponse{}, crawler.WrapError(crawler.ErrorKindTimeout, err, "request deadline exceeded")
	}
	if d.deps.Limiter != nil {
		if err := d.deps.Limiter.Wait(ctx, r.req.URL); err != nil {
			return crawler.ProviderResponse{}, crawler.WrapError(crawler.ErrorKindTimeout, err, "request deadline exceeded while throttled")
		}
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.attempt", trace.WithAttributes(
		attribute.String("fetch.tier", string(t)),
		attribute.Bool("fetch.retry", retry),
	))
	defer span.End()

	attemptReq := r.req
	if t == crawler.TierStealth {
		attemptReq.RenderJS = true
	}
	started := d.deps.Clock.Now()
	resp, err := d.deps.Client.Fetch(ctx, attemptReq, t)
	cost := d.deps.Selector.Cost(t)
	d.deps.Usage.RecordAttempt(t, cost)

	kind := crawler.KindOf(err)
	statusCode := resp.StatusCode
	if statusCode == 0 {
		var fe *crawler.FetchError
		if errors.As(err, &fe) {
			statusCode = fe.StatusCode
		}
	}
	duration := resp.Duration
	if duration == 0 {
		duration = d.deps.Clock.Now().Sub(started)
	}
	r.attempts = append(r.attempts, crawler.Attempt{
		Tier:        t,
		StatusCode:  statusCode,
		ErrorKind:   kind,
		CostCredits: cost,
		DurationMs:  duration.Milliseconds(),
		Retry:       retry,
	})
	r.cost += resp.ProviderCost

	outcome := "success"
	if err != nil {
		outcome = string(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
	}
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	metrics.ObserveAttempt(string(t), outcome)
	d.storeAttempt(ctx, r, started)
	return resp, err
}

func (d *Dispatcher) storeAttempt(ctx context.Context, r *run, attemptedAt time.Time) {
	if d.deps.Attempts == nil {
		return
	}
	last := r.attempts[len(r.attempts)-1]
	record := crawler.AttemptRecord{
		ID:          d.newID(),
		RequestID:   r.requestID,
		URL:         r.req.URL,
		Tier:        last.Tier,
		Sequence:    len(r.attempts),
		StatusCode:  last.StatusCode,
		ErrorKind:   last.ErrorKind,
		CostCredits: last.CostCredits,
		DurationMs:  last.DurationMs,
		AttemptedAt: attemptedAt,
	}
	// The ledger must not fail a fetch the provider already billed.
	if err := d.deps.Attempts.StoreAttempt(context.WithoutCancel(ctx), record); err != nil {
		d.logger.Warn("attempt ledger write failed", zap.String("request_id", r.requestID), zap.Error(err))
	}
}

func (d *Dispatcher) lookup(
	ctx context.Context,
	req crawler.FetchRequest,
	logger *zap.Logger,
) (crawler.FetchResult, string, bool) {
	fp, err := d.deps.Cache.Fingerprint(req)
	if err != nil {
		logger.Warn("fingerprint failed", zap.Error(err))
		return crawler.FetchResult{}, "", false
	}
	cached, hit, err := d.deps.Cache.Get(ctx, fp)
	if err != nil {
		logger.Warn("cache read failed", zap.Error(err))
	}
	metrics.ObserveCacheLookup(hit)
	return cached, fp, hit
}

func (d *Dispatcher) success(r *run, used crawler.Tier, normalized crawler.FetchResult) crawler.FetchResult {
	normalized.RequestID = r.requestID
	normalized.URL = r.req.URL
	normalized.Success = true
	normalized.TierUsed = used
	normalized.Attempts = r.attempts
	normalized.ProviderCost = r.cost
	normalized.FetchedAt = d.deps.Clock.Now()
	return normalized
}

func (d *Dispatcher) failure(r *run, err error) crawler.FetchResult {
	result := crawler.FetchResult{
		RequestID:    r.requestID,
		URL:          r.req.URL,
		Success:      false,
		ErrorKind:    crawler.KindOf(err),
		Message:      crawler.MessageOf(err),
		Attempts:     r.attempts,
		ProviderCost: r.cost,
		FetchedAt:    d.deps.Clock.Now(),
	}
	if n := len(r.attempts); n > 0 {
		result.TierUsed = r.attempts[n-1].Tier
		result.StatusCode = r.attempts[n-1].StatusCode
	}
	return result
}

// completion is the compact message published per terminal result.
type completion struct {
	RequestID   string            `json:"request_id"`
	URL         string            `json:"url"`
	Success     bool              `json:"success"`
	StatusCode  int               `json:"status_code,omitempty"`
	TierUsed    crawler.Tier      `json:"tier_used,omitempty"`
	ErrorKind   crawler.ErrorKind `json:"error_kind,omitempty"`
	SizeBytes   int               `json:"size_bytes"`
	Attempts    int               `json:"attempts"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Timestamp   string            `json:"timestamp"`
}

func (d *Dispatcher) publish(ctx context.Context, result crawler.FetchResult, logger *zap.Logger) {
	if d.deps.Publisher == nil || d.cfg.Topic == "" {
		return
	}
	msg := completion{
		RequestID:   result.RequestID,
		URL:         result.URL,
		Success:     result.Success,
		StatusCode:  result.StatusCode,
		TierUsed:    result.TierUsed,
		ErrorKind:   result.ErrorKind,
		SizeBytes:   result.SizeBytes,
		Attempts:    len(result.Attempts),
		Fingerprint: result.Fingerprint,
		Timestamp:   result.FetchedAt.Format(time.RFC3339),
	}
	if _, err := d.deps.Publisher.Publish(context.WithoutCancel(ctx), d.cfg.Topic, msg); err != nil {
		logger.Warn("completion publish failed", zap.Error(err))
	}
}

func (d *Dispatcher) finish(_ context.Context, span trace.Span, result crawler.FetchResult) {
	outcome := "success"
	if !result.Success {
		outcome = string(result.ErrorKind)
		span.SetStatus(codes.Error, result.Message)
	}
	span.SetAttributes(
		attribute.String("fetch.request_id", result.RequestID),
		attribute.Bool("fetch.success", result.Success),
		attribute.Bool("fetch.from_cache", result.FromCache),
		attribute.String("fetch.tier_used", string(result.TierUsed)),
		attribute.Int("fetch.attempts", len(result.Attempts)),
	)
	metrics.ObserveResult(result.URL, outcome, result.SizeBytes)
}

func (d *Dispatcher) newID() string {
	if d.deps.IDs == nil {
		return ""
	}
	id, err := d.deps.IDs.NewID()
	if err != nil {
		d.logger.Warn("id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func sleep(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
