// Package server builds the service object graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tierfetch/internal/api"
	"github.com/JakeFAU/tierfetch/internal/cache"
	"github.com/JakeFAU/tierfetch/internal/clock/system"
	"github.com/JakeFAU/tierfetch/internal/config"
	"github.com/JakeFAU/tierfetch/internal/crawler"
	"github.com/JakeFAU/tierfetch/internal/dispatcher"
	"github.com/JakeFAU/tierfetch/internal/fetcher/scrapingbee"
	"github.com/JakeFAU/tierfetch/internal/hash/sha256"
	"github.com/JakeFAU/tierfetch/internal/headless/detector"
	"github.com/JakeFAU/tierfetch/internal/id/uuid"
	"github.com/JakeFAU/tierfetch/internal/logging"
	"github.com/JakeFAU/tierfetch/internal/normalize"
	"github.com/JakeFAU/tierfetch/internal/policy/ratelimit"
	"github.com/JakeFAU/tierfetch/internal/policy/simple"
	"github.com/JakeFAU/tierfetch/internal/progress"
	progresssinks "github.com/JakeFAU/tierfetch/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/tierfetch/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/tierfetch/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/tierfetch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tierfetch/internal/storage/local"
	memoryStorage "github.com/JakeFAU/tierfetch/internal/storage/memory"
	pgstore "github.com/JakeFAU/tierfetch/internal/storage/postgres"
	"github.com/JakeFAU/tierfetch/internal/telemetry"
	"github.com/JakeFAU/tierfetch/internal/tier"
	"github.com/JakeFAU/tierfetch/internal/usage"
	"github.com/JakeFAU/tierfetch/internal/worker"
)

// Version is reported as the service version on traces.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	pool            *worker.Pool
	progressHub     *progress.Hub
	queue           *queueMemory.Queue
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	attemptStore    *pgstore.AttemptStore
	tracerProvider  *sdktrace.TracerProvider
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("provider", cfg.Provider.BaseURL),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("provider_key_set", cfg.Provider.APIKey != ""),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Dispatcher exposes the fetch dispatcher for one-shot commands.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the workers and the HTTP server and blocks until the context is
// canceled or a termination signal arrives. Callers still own Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		a.logger.Info("worker pool started", zap.Int("workers", a.cfg.Jobs.Concurrency))
		a.pool.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-poolDone

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every dependency built by Build. It is safe on a partially
// built App.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.progressHub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped before shutdown", zap.Int64("dropped", dropped))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.attemptStore != nil {
		a.attemptStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Syncing stderr fails on some platforms; the error is not actionable.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		if closeErr := app.Close(context.WithoutCancel(ctx)); closeErr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := setupTracing(ctx, a); err != nil {
		return err
	}

	a.logger.Info("building application dependencies")
	jobStore := memoryStorage.NewJobStore(system.New())

	fetchCache, err := setupCache(ctx, a)
	if err != nil {
		return err
	}
	if err = setupDatabase(ctx, a); err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	progressEmitter, err := setupProgress(ctx, a)
	if err != nil {
		return err
	}

	a.dispatch, err = setupDispatcher(a, fetchCache, publisher)
	if err != nil {
		return err
	}

	a.queue = queueMemory.NewQueue(a.cfg.Jobs.QueueDepth)
	a.pool = setupWorkers(a, jobStore, progressEmitter)

	a.apiServer = api.NewServer(
		a.dispatch,
		jobStore,
		a.pool,
		uuid.New(),
		system.New(),
		*a.cfg,
		a.logger.Named("api"),
	)
	a.apiServer.AddReadinessCheck("queue", func(context.Context) error {
		if a.queue.Full() {
			return errors.New("job queue is full")
		}
		return nil
	})
	a.apiServer.AddReadinessCheck("provider", func(context.Context) error {
		if a.cfg.Provider.APIKey == "" {
			return errors.New("provider api key is not configured")
		}
		return nil
	})
	return nil
}

func setupTracing(ctx context.Context, app *App) error {
	if !app.cfg.Tracing.Enabled {
		return nil
	}
	exp, err := telemetry.NewExporter(app.cfg.Tracing.Exporter, os.Stderr)
	if err != nil {
		return fmt.Errorf("trace exporter init failed: %w", err)
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
		ServiceName: app.cfg.Tracing.ServiceName,
		Version:     Version,
		SampleRatio: app.cfg.Tracing.SampleRatio,
	}, exp)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerProvider = tp
	app.logger.Info("tracing enabled",
		zap.String("service_name", app.cfg.Tracing.ServiceName),
		zap.String("exporter", app.cfg.Tracing.Exporter),
		zap.Float64("sample_ratio", app.cfg.Tracing.SampleRatio),
	)
	return nil
}

func setupCache(ctx context.Context, app *App) (*cache.Cache, error) {
	var blobStore crawler.BlobStore
	var err error
	switch app.cfg.Cache.Backend {
	case config.CacheBackendNone:
		app.logger.Info("response cache disabled")
		return nil, nil
	case config.CacheBackendGCS:
		app.logger.Info("using GCS cache backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket:         app.cfg.Cache.Bucket,
			MaxObjectBytes: int64(2 * app.cfg.Provider.MaxBytes),
			CacheControl:   "private, max-age=0",
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS cache backend", zap.String("bucket", app.cfg.Cache.Bucket))
	case config.CacheBackendLocal:
		app.logger.Info("using local cache backend")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Cache.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local cache backend", zap.String("path", app.cfg.Cache.Local.BaseDir))
	default:
		app.logger.Info("using in-memory cache backend")
		blobStore = memoryStorage.NewBlobStore()
	}

	hasher := sha256.New()
	if app.cfg.Cache.Salt != "" {
		hasher = sha256.NewSalted(app.cfg.Cache.Salt)
	}
	return cache.New(blobStore, hasher, app.cfg.Cache.Prefix), nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, attempt ledger disabled")
		return nil
	}
	store, err := pgstore.NewAttemptStore(ctx, pgstore.AttemptStoreConfig{
		DSN:             app.cfg.DB.DSN,
		Table:           app.cfg.DB.Table,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("attempt store init failed: %w", err)
	}
	app.attemptStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("attempt store schema: %w", err)
	}
	app.logger.Info("attempt store initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, completion messages disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient.Publisher(app.cfg.PubSub.TopicName))
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.Discard, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

func setupDispatcher(
	app *App,
	fetchCache *cache.Cache,
	publisher crawler.Publisher,
) (*dispatcher.Dispatcher, error) {
	normalizer := normalize.New(app.cfg.Provider.MaxBytes)
	client, err := scrapingbee.New(scrapingbee.Config{
		BaseURL:   app.cfg.Provider.BaseURL,
		APIKey:    app.cfg.Provider.APIKey,
		UserAgent: app.cfg.Provider.UserAgent,
		Timeout:   app.cfg.AttemptTimeout(),
		MaxBytes:  normalizer.MaxBytes(),
	}, app.logger.Named("scrapingbee"))
	if err != nil {
		return nil, fmt.Errorf("provider client init failed: %w", err)
	}

	var limiter crawler.Limiter
	if app.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			ProviderRPS:   app.cfg.RateLimit.ProviderRPS,
			ProviderBurst: app.cfg.RateLimit.ProviderBurst,
			DomainRPS:     app.cfg.RateLimit.DefaultRPS,
			DomainBurst:   app.cfg.RateLimit.DefaultBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("provider_rps", app.cfg.RateLimit.ProviderRPS),
			zap.Float64("domain_rps", app.cfg.RateLimit.DefaultRPS),
		)
	} else {
		limiter = simple.New()
		app.logger.Info("rate limiter disabled, using pass-through policy")
	}

	deps := dispatcher.Deps{
		Client:     client,
		Selector:   tier.NewSelector(app.cfg.TierCosts()),
		Normalizer: normalizer,
		Usage:      usage.NewTracker(),
		Cache:      fetchCache,
		Publisher:  publisher,
		Limiter:    limiter,
		IDs:        uuid.New(),
		Clock:      system.NewWithPrecision(time.Microsecond),
	}
	if app.attemptStore != nil {
		deps.Attempts = app.attemptStore
	}
	if app.cfg.Provider.RenderHintBytes > 0 {
		deps.Render = detector.NewHeuristic(app.cfg.Provider.RenderHintBytes)
	}
	d, err := dispatcher.New(deps, dispatcher.Config{
		BackoffInitial: app.cfg.BackoffInitial(),
		BackoffMax:     app.cfg.BackoffMax(),
		Topic:          app.cfg.PubSub.TopicName,
	}, app.logger.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}
	return d, nil
}

func setupWorkers(app *App, jobStore crawler.JobStore, emitter progress.Emitter) *worker.Pool {
	clock := system.New()
	workers := make([]*worker.Worker, 0, app.cfg.Jobs.Concurrency)
	for i := 0; i < app.cfg.Jobs.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			jobStore,
			app.dispatch,
			app.logger.Named("worker").With(zap.Int("index", i)),
			worker.WithProgress(emitter),
			worker.WithClock(clock),
		))
	}
	return worker.NewPool(app.queue, workers)
}
