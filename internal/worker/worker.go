// Package worker runs queued batch jobs through the tiered dispatcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tierfetch/internal/clock/system"
	"github.com/JakeFAU/tierfetch/internal/crawler"
	"github.com/JakeFAU/tierfetch/internal/metrics"
	"github.com/JakeFAU/tierfetch/internal/progress"
)

// Dispatcher serves one fetch request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req crawler.FetchRequest) crawler.FetchResult
}

// Worker consumes queue items and executes each request of a job.
type Worker struct {
	queue      crawler.Queue
	jobStore   crawler.JobStore
	dispatcher Dispatcher
	logger     *zap.Logger
	emitter    progress.Emitter
	clock      crawler.Clock
}

// Option customizes a Worker.
type Option func(*Worker)

// WithProgress reports job and fetch milestones to emitter.
func WithProgress(emitter progress.Emitter) Option {
	return func(w *Worker) {
		if emitter != nil {
			w.emitter = emitter
		}
	}
}

// WithClock overrides the clock used to stamp progress events.
func WithClock(clock crawler.Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	dispatcher Dispatcher,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		queue:      queue,
		jobStore:   jobStore,
		dispatcher: dispatcher,
		logger:     logger,
		emitter:    progress.Discard,
		clock:      system.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.dispatcher == nil {
		w.logger.Error("no dispatcher configured", zap.String("job_id", item.JobID))
		if err := w.jobStore.UpdateJobStatus(
			ctx,
			item.JobID,
			crawler.JobStatusFailed,
			"no dispatcher configured",
			crawler.JobCounters{},
		); err != nil {
			w.logger.Error("fail job status update", zap.String("job_id", item.JobID), zap.Error(err))
		}
		metrics.ObserveJob(string(crawler.JobStatusFailed))
		return
	}

	counters := crawler.JobCounters{}
	errText := ""
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, errText, counters); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	started := w.clock.Now()
	w.emit(progress.Event{JobID: item.JobID, TS: started, Stage: progress.StageJobStart})

	canceled := false
	for _, req := range item.Requests {
		if ctx.Err() != nil || w.canceled(ctx, item.JobID) {
			canceled = true
			break
		}
		if err := w.handleRequest(ctx, item.JobID, req, &counters); err != nil {
			errText = err.Error()
		}
	}

	status, errText := deriveFinalStatus(ctx, canceled, counters, errText)
	if err := w.jobStore.UpdateJobStatus(context.WithoutCancel(ctx), item.JobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	w.emitCompletion(item.JobID, status, errText, w.clock.Now().Sub(started))
	w.logger.Info("job finished",
		zap.String("job_id", item.JobID),
		zap.String("status", string(status)),
		zap.Int("succeeded", counters.Succeeded),
		zap.Int("failed", counters.Failed),
	)
}

// canceled reports whether the job was canceled through the store.
func (w *Worker) canceled(ctx context.Context, jobID string) bool {
	job, err := w.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == crawler.JobStatusCanceled
}

func (w *Worker) handleRequest(
	ctx context.Context,
	jobID string,
	req crawler.FetchRequest,
	counters *crawler.JobCounters,
) error {
	start := w.clock.Now()
	result := w.dispatcher.Dispatch(ctx, req)
	now := w.clock.Now()
	w.emit(progress.FetchEvent(jobID, now, metrics.SanitizeSite(req.URL), result, now.Sub(start)))
	if result.Success {
		counters.Succeeded++
	} else {
		counters.Failed++
		w.logger.Warn("job request failed",
			zap.String("job_id", jobID),
			zap.String("url", req.URL),
			zap.String("error_kind", string(result.ErrorKind)),
			zap.String("message", result.Message),
		)
	}
	if err := w.jobStore.RecordResult(ctx, jobID, result); err != nil {
		w.logger.Error("record result failed", zap.String("job_id", jobID), zap.String("url", req.URL), zap.Error(err))
		return fmt.Errorf("record result: %w", err)
	}
	if !result.Success {
		return errors.New(result.Message)
	}
	return nil
}

func deriveFinalStatus(
	ctx context.Context,
	canceled bool,
	counters crawler.JobCounters,
	errText string,
) (crawler.JobStatus, string) {
	if counters.Succeeded == 0 && errText == "" {
		errText = "no requests succeeded"
	}

	switch {
	case canceled || ctx.Err() != nil:
		return crawler.JobStatusCanceled, errText
	case counters.Succeeded == 0:
		return crawler.JobStatusFailed, errText
	default:
		return crawler.JobStatusSucceeded, errText
	}
}

func (w *Worker) emit(evt progress.Event) {
	w.emitter.Emit(evt)
}

func (w *Worker) emitCompletion(jobID string, status crawler.JobStatus, errText string, dur time.Duration) {
	evt := progress.Event{
		JobID: jobID,
		TS:    w.clock.Now(),
		Stage: progress.StageJobDone,
		Dur:   max(dur, 0),
		Note:  string(status),
	}
	if status != crawler.JobStatusSucceeded {
		evt.Stage = progress.StageJobError
		if errText != "" {
			evt.Note = string(status) + ": " + errText
		}
	}
	w.emit(evt)
}
