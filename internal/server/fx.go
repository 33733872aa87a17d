// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/api"
	"github.com/JakeFAU/sitemap-indexer/internal/clock/system"
	"github.com/JakeFAU/sitemap-indexer/internal/config"
	"github.com/JakeFAU/sitemap-indexer/internal/dispatcher"
	"github.com/JakeFAU/sitemap-indexer/internal/fetcher/archive"
	collyfetcher "github.com/JakeFAU/sitemap-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/sitemap-indexer/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-indexer/internal/id/uuid"
	"github.com/JakeFAU/sitemap-indexer/internal/indexapi"
	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
	"github.com/JakeFAU/sitemap-indexer/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/sitemap-indexer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitemap-indexer/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/sitemap-indexer/internal/queue/memory"
	"github.com/JakeFAU/sitemap-indexer/internal/scheduler"
	"github.com/JakeFAU/sitemap-indexer/internal/sitemap"
	gcsstorage "github.com/JakeFAU/sitemap-indexer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitemap-indexer/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitemap-indexer/internal/storage/memory"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
	"github.com/JakeFAU/sitemap-indexer/internal/worker"
	"github.com/JakeFAU/sitemap-indexer/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	clock        indexer.Clock
	ids          indexer.IDGenerator
	stores       *Stores
	queue        *queuememory.Queue
	workers      []*worker.Worker
	dispatch     *dispatcher.Dispatcher
	scheduler    *scheduler.Scheduler
	apiServer    *api.Server
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("runs_backend", cfg.RunsBackend()),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	var err error
	app.stores, err = OpenStores(ctx, cfg, app.clock, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	submitter, err := a.setupSubmitter(ctx)
	if err != nil {
		return err
	}
	resolver := a.setupResolver(blobStore)

	flow := workflow.New(
		a.stores.Catalog,
		resolver,
		submitter,
		a.clock,
		workflow.Config{
			CrawlFreshness:    a.cfg.Workflow.CrawlFreshness,
			Cooldown:          a.cfg.Workflow.Cooldown,
			BatchLimit:        a.cfg.Workflow.BatchLimit,
			SiteConcurrency:   a.cfg.Workflow.SiteConcurrency,
			SubmitConcurrency: a.cfg.Workflow.SubmitConcurrency,
		},
		a.logger.Named("workflow"),
	)
	retry := workflow.NewExponentialRetryPolicy(
		a.cfg.Workflow.StepMaxAttempts,
		a.cfg.Workflow.StepBaseBackoff,
		a.cfg.Workflow.StepMaxBackoff,
	)
	runnerLogger := a.logger.Named("runner")
	runnerCfg := workflow.RunnerConfig{StepTimeout: a.cfg.Workflow.StepTimeout}
	newRunner := func(runID string) workflow.StepRunner {
		return workflow.NewDurableRunner(runID, a.stores.Runs, retry, a.clock, runnerCfg, runnerLogger)
	}

	a.queue = queuememory.NewQueue(a.cfg.Runner.QueueDepth)
	workerCfg := worker.Config{Topic: a.cfg.PubSub.TopicName}
	for i := 0; i < a.cfg.Runner.Workers; i++ {
		a.workers = append(a.workers, worker.New(
			a.queue,
			a.stores.Runs,
			flow,
			newRunner,
			publisher,
			a.clock,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, a.stores.Runs, a.ids, a.clock, a.workers, a.logger.Named("dispatcher"))

	if a.cfg.Schedule.Enabled {
		a.scheduler, err = scheduler.New(a.cfg.Schedule.Cron, a.dispatch, a.logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	a.apiServer = api.NewServer(
		a.stores.Catalog,
		a.stores.Runs,
		a.dispatch,
		api.Config{RequestTimeout: a.cfg.Server.RequestTimeout},
		a.logger,
		a.stores.Checks...,
	)
	return nil
}

// Catalog exposes the configured catalog for CLI commands.
func (a *App) Catalog() indexer.Catalog {
	return a.stores.Catalog
}

// Run serves HTTP, the worker pool, and the scheduler until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Runner.RecoverOnStart {
		n, err := a.dispatch.Recover(ctx)
		if err != nil {
			a.logger.Error("run recovery failed", zap.Error(err))
		} else if n > 0 {
			a.logger.Info("recovered unfinished runs", zap.Int("count", n))
		}
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", len(a.workers)))
		a.dispatch.Run(ctx)
	}()

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
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
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	return a.Close()
}

// RunOnce executes a single run in the foreground and returns its final record.
func (a *App) RunOnce(ctx context.Context) (store.Run, error) {
	if len(a.workers) == 0 {
		return store.Run{}, errors.New("no workers configured")
	}
	id, err := a.ids.NewID()
	if err != nil {
		return store.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := store.Run{
		ID:        id,
		Trigger:   indexer.TriggerCLI,
		Status:    store.RunQueued,
		CreatedAt: a.clock.Now(),
	}
	if err := a.stores.Runs.CreateRun(ctx, run); err != nil {
		return store.Run{}, fmt.Errorf("create run: %w", err)
	}
	a.logger.Info("running workflow once", zap.String("run_id", id))
	return a.workers[0].Execute(ctx, id)
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Close()
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
	if a.stores != nil {
		if err := a.stores.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

// setupStorage returns the sitemap archive backend, or nil when archiving is off.
func (a *App) setupStorage(ctx context.Context) (indexer.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS sitemap archive", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		// The archive decorator applies storage.prefix itself.
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.StorageLocal:
		a.logger.Info("using local sitemap archive", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory sitemap archive")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("sitemap archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (indexer.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := gcppublisher.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

// setupSubmitter builds the indexing client. Missing credentials are not fatal
// here; every run fails at its credential check until they are configured.
func (a *App) setupSubmitter(ctx context.Context) (*indexapi.Client, error) {
	creds := indexapi.Credentials{
		AccessToken: a.cfg.Indexing.AccessToken,
		File:        a.cfg.Indexing.CredentialsFile,
		ClientEmail: a.cfg.Indexing.ClientEmail,
		PrivateKey:  a.cfg.Indexing.PrivateKey,
	}
	tokens, err := creds.TokenSource(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, indexapi.ErrMissingCredentials):
		a.logger.Warn("indexing credentials are not configured; runs will fail before submitting")
	case err != nil:
		return nil, fmt.Errorf("indexing credentials init failed: %w", err)
	}
	client, err := indexapi.New(
		ctx,
		indexapi.Config{Endpoint: a.cfg.Indexing.Endpoint, Timeout: a.cfg.Indexing.Timeout},
		tokens,
		nil,
		a.logger.Named("indexapi"),
	)
	if err != nil {
		return nil, fmt.Errorf("indexing client init failed: %w", err)
	}
	return client, nil
}

func (a *App) setupResolver(blobStore indexer.BlobStore) *sitemap.Resolver {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Crawler.HostRPS,
		DefaultBurst: a.cfg.Crawler.HostBurst,
	})
	var fetcher indexer.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.Crawler.RequestTimeout,
		MaxBodySize:   a.cfg.Crawler.MaxBodyBytes,
	}, limiter)
	a.logger.Info("using colly sitemap fetcher",
		zap.String("user_agent", a.cfg.Crawler.UserAgent),
		zap.Float64("host_rps", a.cfg.Crawler.HostRPS),
	)
	if blobStore != nil {
		fetcher = archive.New(fetcher, blobStore, sha256.New(), a.cfg.Storage.Prefix, a.logger.Named("archive"))
	}
	return sitemap.New(fetcher, sitemap.Config{
		Concurrency: a.cfg.Crawler.Concurrency,
		MaxDepth:    a.cfg.Crawler.MaxDepth,
	}, a.logger.Named("sitemap"))
}
