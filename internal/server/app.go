// Package server builds the application's dependencies from config and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/api"
	"github.com/JakeFAU/sitegraph/internal/clock/system"
	"github.com/JakeFAU/sitegraph/internal/config"
	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitegraph/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitegraph/internal/fetcher/headless"
	"github.com/JakeFAU/sitegraph/internal/fetcher/promote"
	"github.com/JakeFAU/sitegraph/internal/graph"
	"github.com/JakeFAU/sitegraph/internal/headless/detector"
	"github.com/JakeFAU/sitegraph/internal/hash/sha256"
	"github.com/JakeFAU/sitegraph/internal/id/uuid"
	"github.com/JakeFAU/sitegraph/internal/policy/ratelimit"
	"github.com/JakeFAU/sitegraph/internal/progress"
	progresssinks "github.com/JakeFAU/sitegraph/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/sitegraph/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/sitegraph/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitegraph/internal/publisher/pubsub"
	"github.com/JakeFAU/sitegraph/internal/queue"
	kafkaqueue "github.com/JakeFAU/sitegraph/internal/queue/kafka"
	queueMemory "github.com/JakeFAU/sitegraph/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/sitegraph/internal/queue/pubsub"
	"github.com/JakeFAU/sitegraph/internal/results"
	"github.com/JakeFAU/sitegraph/internal/runner"
	gcsstorage "github.com/JakeFAU/sitegraph/internal/storage/gcs"
	"github.com/JakeFAU/sitegraph/internal/storage/graphdb"
	localstorage "github.com/JakeFAU/sitegraph/internal/storage/local"
	memoryStorage "github.com/JakeFAU/sitegraph/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitegraph/internal/storage/postgres"
	"github.com/JakeFAU/sitegraph/internal/storage/sqlite"
	"github.com/JakeFAU/sitegraph/internal/store"
	"github.com/JakeFAU/sitegraph/internal/worker"
)

const (
	notifyQueueDepth = 256
	shutdownTimeout  = 30 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	jobStore    crawler.JobStore
	progressHub *progress.Hub
	consumers   []queue.Consumer

	pool         *pgxpool.Pool
	pubsubClient *pubsub.Client
	storage      *storage.Client
	// closed in reverse order after the hub has drained
	closers []func(context.Context) error
}

// Build creates every dependency named by cfg. reg receives the progress
// collectors; nil means the default registry.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("blob", cfg.Blob.Backend),
		zap.String("engine", cfg.Crawler.Engine),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.String("notify", cfg.Notify.Backend),
	)

	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.Background())
		}
	}()

	events, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}
	blobStore, err := app.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := app.setupResults(blobStore)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	status, err := app.setupProgress(events, reg)
	if err != nil {
		return nil, err
	}
	fetcher, err := app.setupFetcher()
	if err != nil {
		return nil, err
	}
	app.setupDispatcher(fetcher, blobStore, sink, publisher)

	pusher, err := app.setupNotify(ctx)
	if err != nil {
		return nil, err
	}

	handler := api.NewProgressHandler(events, status, logger.Named("progress_api")).WithJobStore(app.jobStore)
	opts := api.Options{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Ready:             app.readiness(),
	}
	if cfg.Auth.Enabled {
		opts.APIKey = cfg.Auth.APIKey
	}
	if pusher != nil {
		opts.Notifications = pusher
	}
	app.apiServer = api.NewServer(app.jobStore, app.dispatch, handler, opts, logger.Named("api"))

	ok = true
	return app, nil
}

// OpenStore builds only the job store, for commands that submit work to a
// scheduler running elsewhere. Close releases it.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	if _, err := app.setupStores(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

// JobStore exposes the configured store for one-shot commands.
func (a *App) JobStore() crawler.JobStore {
	return a.jobStore
}

// Dispatcher exposes the scheduler for one-shot commands.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the scheduler, the notification consumers and the HTTP server,
// and blocks until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.dispatch.Run(ctx); err != nil {
			a.logger.Error("dispatcher stopped", zap.Error(err))
			stop()
		}
	}()
	for _, c := range a.consumers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("notification consumer stopped", zap.Error(err))
				stop()
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
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
	wg.Wait()
	return a.Close(shutdownCtx)
}

// Close drains progress events and releases every client.
func (a *App) Close(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func closer(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

func (a *App) readiness() []api.ReadyFunc {
	var checks []api.ReadyFunc
	if a.pool != nil {
		pool := a.pool
		checks = append(checks, func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres ping: %w", err)
			}
			return nil
		})
	}
	return checks
}

func (a *App) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.Store.DSN,
		MaxConns: a.cfg.Store.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	return pool, nil
}

// setupStores picks the job store and the event history that goes with it.
func (a *App) setupStores(ctx context.Context) (store.EventRepository, error) {
	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		jobs, err := pgstore.NewJobStore(pool, "")
		if err != nil {
			return nil, fmt.Errorf("postgres job store init failed: %w", err)
		}
		events, err := pgstore.NewEventStore(pool, "")
		if err != nil {
			return nil, fmt.Errorf("postgres event store init failed: %w", err)
		}
		a.jobStore = jobs
		a.logger.Info("using postgres job store")
		return events, nil
	case config.BackendSQLite:
		jobs, err := sqlite.NewJobStore(a.cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite job store init failed: %w", err)
		}
		a.onClose(closer(jobs))
		a.jobStore = jobs
		a.logger.Info("using sqlite job store", zap.String("path", a.cfg.Store.SQLitePath))
		return memoryStorage.NewEventStore(), nil
	default:
		a.jobStore = memoryStorage.NewJobStore()
		a.logger.Info("using in-memory job store")
		return memoryStorage.NewEventStore(), nil
	}
}

func (a *App) setupBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Blob.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Blob.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Blob.GCSBucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("path", a.cfg.Blob.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory blob store")
		return memoryStorage.NewBlobStore(), nil
	}
}

// setupResults assembles the result sinks in their persist order.
func (a *App) setupResults(blobs crawler.BlobStore) (crawler.ResultSink, error) {
	var sinks results.Multi
	if a.cfg.Results.Postgres {
		pool, err := a.postgresPool(context.Background())
		if err != nil {
			return nil, err
		}
		rs, err := pgstore.NewResultStore(pool, "")
		if err != nil {
			return nil, fmt.Errorf("postgres result store init failed: %w", err)
		}
		sinks = append(sinks, rs)
	}
	if a.cfg.Results.BlobExport {
		sinks = append(sinks, results.NewBlobSink(blobs, "graphs"))
	}
	if a.cfg.Results.Neo4j {
		gw, err := graphdb.Dial(graphdb.Config{
			URI:      a.cfg.Neo4j.URI,
			Username: a.cfg.Neo4j.Username,
			Password: a.cfg.Neo4j.Password,
			Database: a.cfg.Neo4j.Database,
		}, a.logger.Named("graphdb"))
		if err != nil {
			return nil, fmt.Errorf("neo4j init failed: %w", err)
		}
		a.onClose(gw.Close)
		sinks = append(sinks, gw)
	}
	if len(sinks) == 0 {
		a.logger.Warn("no result sinks enabled, keeping results in memory")
		return memoryStorage.NewResultStore(), nil
	}
	return sinks, nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case config.BackendMemory:
		return memorypublisher.New(), nil
	case config.BackendKafka:
		p := kafkapublisher.New(a.cfg.Kafka.Brokers)
		a.onClose(closer(p))
		a.logger.Info("kafka publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
		return p, nil
	case config.BackendPubSub:
		p, client, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.EventsTopic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.pubsubClient = client
		a.onClose(func(context.Context) error {
			p.Close()
			return nil
		})
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.EventsTopic))
		return p, nil
	default:
		a.logger.Info("lifecycle publishing disabled")
		return nil, nil
	}
}

// setupProgress starts the hub. The returned reader is nil without Redis.
func (a *App) setupProgress(events store.EventRepository, reg prometheus.Registerer) (api.StatusReader, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		progresssinks.NewStoreSink(events, a.logger.Named("progress_store")),
		promSink,
	}
	var status api.StatusReader
	if a.cfg.Redis.Addr != "" {
		redisSink, err := progresssinks.NewRedisSink(progresssinks.RedisOptions{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			TTL:      a.cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis status cache init failed: %w", err)
		}
		sinkList = append(sinkList, redisSink)
		status = redisSink
		a.logger.Info("redis status cache enabled", zap.String("addr", a.cfg.Redis.Addr))
	}
	a.progressHub = progress.NewHub(progress.Config{
		BufferSize:   a.cfg.Progress.BufferSize,
		MaxBatchWait: a.cfg.Progress.MaxBatchWait,
		Logger:       a.logger.Named("progress_hub"),
	}, sinkList...)
	return status, nil
}

func (a *App) setupFetcher() (crawler.Fetcher, error) {
	headlessCfg := headlessfetcher.Config{
		MaxParallel:       a.cfg.Crawler.HeadlessParallel,
		UserAgent:         a.cfg.Crawler.UserAgent,
		NavigationTimeout: a.cfg.Crawler.RequestTimeout,
	}
	switch a.cfg.Crawler.Engine {
	case config.EngineChromedp:
		f, err := headlessfetcher.NewChromedp(headlessCfg)
		if err != nil {
			return nil, fmt.Errorf("chromedp fetcher init failed: %w", err)
		}
		a.onClose(closer(f))
		a.logger.Info("using chromedp fetcher", zap.Int("max_parallel", headlessCfg.MaxParallel))
		return f, nil
	case config.EngineAuto:
		browser, err := headlessfetcher.NewChromedp(headlessCfg)
		if err != nil {
			return nil, fmt.Errorf("chromedp fetcher init failed: %w", err)
		}
		a.onClose(closer(browser))
		f, err := promote.New(a.collyFetcher(), browser,
			detector.NewHeuristic(a.cfg.Crawler.PromoteScriptShare), a.logger.Named("promote"))
		if err != nil {
			return nil, fmt.Errorf("promoting fetcher init failed: %w", err)
		}
		a.logger.Info("using colly fetcher with chromedp promotion", zap.Int("max_parallel", headlessCfg.MaxParallel))
		return f, nil
	case config.EnginePlaywright:
		f, err := headlessfetcher.NewPlaywright(headlessCfg)
		if err != nil {
			return nil, fmt.Errorf("playwright fetcher init failed: %w", err)
		}
		a.onClose(closer(f))
		a.logger.Info("using playwright fetcher", zap.Int("max_parallel", headlessCfg.MaxParallel))
		return f, nil
	default:
		a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Crawler.UserAgent))
		return a.collyFetcher(), nil
	}
}

func (a *App) collyFetcher() *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.Crawler.RequestTimeout,
	})
}

func (a *App) setupDispatcher(
	fetcher crawler.Fetcher,
	blobs crawler.BlobStore,
	sink crawler.ResultSink,
	publisher crawler.Publisher,
) {
	clock := system.New()
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Crawler.PerHostRPS,
		DefaultBurst: 1,
	})
	var pageBlobs crawler.BlobStore
	if a.cfg.Crawler.StoreHTML {
		pageBlobs = blobs
	}
	retries := a.cfg.Crawler.MaxRetries
	if retries == 0 {
		// the runner reads zero as "use the default"
		retries = -1
	}
	run := runner.New(fetcher, limiter, pageBlobs, sha256.New(), a.progressHub, clock, runner.Config{
		Concurrency: a.cfg.Crawler.MaxConcurrency,
		MaxRetries:  retries,
		RetryDelay:  a.cfg.Crawler.RetryDelay,
		UserAgent:   a.cfg.Crawler.UserAgent,
		StoreHTML:   a.cfg.Crawler.StoreHTML,
		HTMLPrefix:  a.cfg.Blob.Prefix,
	}, a.logger.Named("runner"))

	topic := ""
	if publisher != nil {
		topic = a.cfg.EventsTopic()
	}
	w := worker.New(a.jobStore, run, sink, publisher, a.progressHub, clock, worker.Config{
		SortByDepth: a.cfg.Scheduler.SortByDepth,
		Layout: graph.LayoutOptions{
			NodeWidth:      a.cfg.Layout.NodeWidth,
			SiblingSpacing: a.cfg.Layout.SiblingSpacing,
			LevelSpacing:   a.cfg.Layout.LevelSpacing,
			Margin:         a.cfg.Layout.Margin,
		},
		Topic: topic,
	}, a.logger.Named("worker"))

	a.dispatch = dispatcher.New(a.jobStore, w, uuid.NewUUIDGenerator(), clock, dispatcher.Config{
		Concurrency:     a.cfg.Scheduler.Concurrency,
		PollInterval:    a.cfg.Scheduler.PollInterval,
		RepollDelay:     a.cfg.Scheduler.RepollDelay,
		StaleAfter:      a.cfg.Scheduler.StaleAfter,
		DefaultMaxPages: a.cfg.Crawler.MaxPagesDefault,
	}, a.logger.Named("dispatcher"))
}

// setupNotify wires the upstream notification consumer. The memory queue is
// returned so the API can feed it.
func (a *App) setupNotify(ctx context.Context) (api.Pusher, error) {
	h := queue.NewHandler(a.dispatch, a.logger.Named("notify"))
	switch a.cfg.Notify.Backend {
	case config.BackendMemory:
		q := queueMemory.NewQueue(notifyQueueDepth, h, a.logger.Named("notify_queue"))
		a.onClose(func(context.Context) error {
			q.Close()
			return nil
		})
		a.consumers = append(a.consumers, q)
		return q, nil
	case config.BackendKafka:
		c := kafkaqueue.New(kafkaqueue.Config{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.NotifyTopic,
			GroupID: a.cfg.Kafka.GroupID,
		}, h, a.logger.Named("notify_kafka"))
		a.onClose(closer(c))
		a.consumers = append(a.consumers, c)
		a.logger.Info("kafka notifications enabled", zap.String("topic", a.cfg.Kafka.NotifyTopic))
	case config.BackendPubSub:
		sub, client, err := pubsubqueue.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Subscription, h, a.logger.Named("notify_pubsub"))
		if err != nil {
			return nil, fmt.Errorf("pubsub subscriber init failed: %w", err)
		}
		a.onClose(closer(client))
		a.consumers = append(a.consumers, sub)
		a.logger.Info("Pub/Sub notifications enabled", zap.String("subscription", a.cfg.PubSub.Subscription))
	}
	return nil, nil
}
