package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/tierfetch/internal/config"
	"github.com/JakeFAU/tierfetch/internal/crawler"
	"github.com/JakeFAU/tierfetch/internal/invoke"
	"github.com/JakeFAU/tierfetch/internal/metrics"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// Fetcher serves synchronous fetches and reports usage.
type Fetcher interface {
	Dispatch(ctx context.Context, req crawler.FetchRequest) crawler.FetchResult
	Usage() crawler.UsageStats
}

// Enqueuer accepts batch jobs for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	handler  http.Handler
	fetcher  Fetcher
	invoker  *invoke.Handler
	jobStore crawler.JobStore
	jobs     Enqueuer
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	cfg      config.Config
	logger   *zap.Logger
	checks   map[string]ReadinessCheck
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	fetcher Fetcher,
	jobStore crawler.JobStore,
	jobs Enqueuer,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		fetcher:  fetcher,
		invoker:  invoke.NewHandler(fetcher, logger.Named("invoke")),
		jobStore: jobStore,
		jobs:     jobs,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		checks:   make(map[string]ReadinessCheck),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if timeout := cfg.RequestTimeout(); timeout > 0 {
		r.Use(timeoutMiddleware(timeout))
	}
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/fetch", s.fetch)
		r.Post("/invoke", s.invoke)
		r.Get("/usage", s.usage)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Post("/standard", s.submitStandardJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "tierfetch.http")
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// AddReadinessCheck registers a dependency probed by /readyz.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checks[name] = check
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failures := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var req crawler.FetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	result := s.fetcher.Dispatch(r.Context(), req)
	writeJSON(w, result.ErrorKind.HTTPStatus(), result)
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "event too large")
		return
	}
	resp := s.invoker.HandleRaw(r.Context(), raw)
	writeJSON(w, resp.StatusCode, resp)
}

func (s *Server) usage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.fetcher.Usage())
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.enqueueAndRespond(w, r, req.Requests)
}

func (s *Server) submitStandardJob(w http.ResponseWriter, r *http.Request) {
	var req standardJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing job name")
		return
	}
	template, ok := s.cfg.StandardJobs[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "standard job template not found")
		return
	}
	s.enqueueAndRespond(w, r, cloneRequests(template))
}

func (s *Server) enqueueAndRespond(w http.ResponseWriter, r *http.Request, requests []crawler.FetchRequest) {
	if err := s.checkBatch(requests); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), requests)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) checkBatch(requests []crawler.FetchRequest) error {
	if len(requests) == 0 {
		return errors.New("at least one request required")
	}
	if limit := s.cfg.Jobs.MaxRequests; limit > 0 && len(requests) > limit {
		return fmt.Errorf("at most %d requests per job", limit)
	}
	for i, req := range requests {
		if _, err := crawler.ValidateRequest(req); err != nil {
			return fmt.Errorf("requests[%d]: %s", i, crawler.MessageOf(err))
		}
	}
	return nil
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	results, err := s.jobStore.ListResults(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job results")
		return
	}
	writeJSON(w, http.StatusOK, crawler.JobResult{Job: job, Results: results})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}
	if err := s.jobStore.UpdateJobStatus(
		r.Context(),
		jobID,
		crawler.JobStatusCanceled,
		"canceled via API",
		job.Counters,
	); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(crawler.JobStatusCanceled)})
}

func (s *Server) enqueueJob(ctx context.Context, requests []crawler.FetchRequest) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:        jobID,
		Status:    crawler.JobStatusQueued,
		Submitted: now,
		Requests:  requests,
		Counters:  crawler.JobCounters{},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	timeout := time.Duration(s.cfg.Jobs.EnqueueTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	queueCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Requests:  requests,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.jobs.Enqueue(queueCtx, item); err != nil {
		if updateErr := s.jobStore.UpdateJobStatus(
			context.WithoutCancel(ctx),
			jobID,
			crawler.JobStatusFailed,
			"enqueue failed: "+err.Error(),
			crawler.JobCounters{},
		); updateErr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(updateErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

type jobRequest struct {
	Requests []crawler.FetchRequest `json:"requests"`
}

type standardJobRequest struct {
	Name string `json:"name"`
}

func cloneRequests(src []crawler.FetchRequest) []crawler.FetchRequest {
	dst := make([]crawler.FetchRequest, len(src))
	for i, req := range src {
		cp := req
		if req.Headers != nil {
			cp.Headers = make(map[string]string, len(req.Headers))
			for k, v := range req.Headers {
				cp.Headers[k] = v
			}
		}
		dst[i] = cp
	}
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestIDFrom(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware puts a deadline on the request context. Handlers write
// their own response once it expires.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
