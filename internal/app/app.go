// Package app assembles long-lived services from configuration. It is the
// composition root shared by the crawl and worker commands.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	system "github.com/crawlkit/crawld/internal/clock/system"
	"github.com/crawlkit/crawld/internal/config"
	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/events"
	"github.com/crawlkit/crawld/internal/events/sinks"
	"github.com/crawlkit/crawld/internal/fetch"
	"github.com/crawlkit/crawld/internal/frontier"
	"github.com/crawlkit/crawld/internal/hash/sha256"
	"github.com/crawlkit/crawld/internal/id/uuid"
	"github.com/crawlkit/crawld/internal/logging"
	"github.com/crawlkit/crawld/internal/metrics"
	"github.com/crawlkit/crawld/internal/pipeline"
	pubmem "github.com/crawlkit/crawld/internal/publisher/memory"
	pubgcp "github.com/crawlkit/crawld/internal/publisher/pubsub"
	"github.com/crawlkit/crawld/internal/remote"
	"github.com/crawlkit/crawld/internal/resilience"
	"github.com/crawlkit/crawld/internal/runner"
	"github.com/crawlkit/crawld/internal/storage/badgercache"
	"github.com/crawlkit/crawld/internal/storage/gcs"
	"github.com/crawlkit/crawld/internal/storage/local"
	"github.com/crawlkit/crawld/internal/storage/memory"
	"github.com/crawlkit/crawld/internal/storage/postgres"
	"github.com/crawlkit/crawld/internal/throttle"
	"github.com/crawlkit/crawld/internal/validate"
)

// App holds the shared services for one process.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger
	Clock  crawler.Clock
	RunID  string

	Frontier   *frontier.Manager
	Throttle   *throttle.Manager
	Pipeline   *pipeline.Pipeline
	Resilience *resilience.Service
	Runner     *runner.Runner
	Hub        *events.Hub

	closers []func(context.Context)
}

// New builds the full crawl stack from cfg. It fails fast when a configured
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	clock := system.New()

	a := &App{Cfg: cfg, Logger: logger, Clock: clock, RunID: runID}

	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	pages, err := a.buildPageStore(ctx)
	if err != nil {
		return nil, err
	}
	cache, err := a.buildCache()
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	hubSinks := []events.Sink{
		sinks.NewLogSink(logger),
		sinks.NewPrometheusSink(),
	}
	if publisher != nil {
		hubSinks = append(hubSinks, sinks.NewPublisherSink(publisher, cfg.PubSub.TopicName))
	}
	a.Hub = events.NewHub(events.Config{Logger: logger}, hubSinks...)
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := a.Hub.Close(ctx); err != nil {
			logger.Warn("close event hub", zap.Error(err))
		}
	})

	a.Resilience = resilience.New(resilience.Config{
		Breaker: resilience.BreakerConfig{
			HardFailureThreshold: cfg.Resilience.HardFailureThreshold,
			BaseBackoff:          time.Duration(cfg.Resilience.BaseBackoffSec) * time.Second,
			MaxBackoff:           time.Duration(cfg.Resilience.MaxBackoffSec) * time.Second,
		},
		StallThreshold: time.Duration(cfg.Resilience.StallThresholdSec) * time.Second,
		MaxHeapBytes:   uint64(cfg.Resilience.MaxHeapMB) * 1 << 20,
	}, clock, logger, nil)
	a.Resilience.SetEmitter(a.Hub, runID)

	a.Throttle = throttle.New(throttle.Config{
		DefaultRPS: cfg.Throttle.DefaultRPS,
		MinRPS:     cfg.Throttle.MinRPS,
		MaxRPS:     cfg.Throttle.MaxRPS,
		Burst:      cfg.Throttle.Burst,
		MaxPerHost: cfg.Throttle.MaxPerHost,
		MaxHosts:   cfg.Throttle.MaxHosts,
	}, a.Resilience)

	a.Frontier = frontier.New(frontier.Config{
		MaxAttempts: cfg.Crawler.MaxAttempts,
		MaxDepth:    cfg.Crawler.MaxDepth,
	}, a.Throttle, a.Hub, clock, logger, runID)

	localFetcher := fetch.NewColly(fetch.CollyConfig{
		UserAgent:      cfg.Crawler.UserAgent,
		RequestTimeout: cfg.FetchTimeout() / 2,
	}, clock, logger)

	headless, err := a.buildHeadless(clock, logger)
	if err != nil {
		return nil, err
	}
	router, err := a.buildRemoteRouter(clock, logger)
	if err != nil {
		return nil, err
	}

	a.Pipeline, err = pipeline.New(pipeline.Config{
		FetchTimeout:        cfg.FetchTimeout(),
		HeadlessTimeout:     time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		TLSFingerprintHosts: cfg.Crawler.TLSFingerprintHosts,
		Topic:               cfg.PubSub.TopicName,
	}, pipeline.Deps{
		Local:      localFetcher,
		Headless:   headless,
		Remote:     router,
		Validator:  validate.New(validate.Config{MinBytes: cfg.Validation.MinBytes, RequiredSelectors: cfg.Validation.RequiredSelectors}),
		Resilience: a.Resilience,
		Cache:      cache,
		Pages:      pages,
		Blobs:      blobs,
		Hasher:     sha256.New(),
		Clock:      clock,
		Emitter:    a.Hub,
		Logger:     logger,
		RunID:      runID,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	a.Runner, err = runner.New(runner.Config{
		Workers:       cfg.Crawler.Concurrency,
		MinWorkers:    cfg.Crawler.MinConcurrency,
		DiscoverLinks: cfg.Crawler.DiscoverLinks,
	}, a.Frontier, a.Throttle, a.Pipeline, a.Resilience, a.Hub, clock, logger, runID)
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}

	return a, nil
}

// Close shuts down services in reverse construction order.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	_ = a.Logger.Sync()
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.Cfg.Storage.Backend {
	case "gcs":
		store, err := gcs.New(ctx, gcs.Config{Bucket: a.Cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) { _ = store.Close() })
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: a.Cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	default:
		return memory.NewBlobStore(), nil
	}
}

func (a *App) buildPageStore(ctx context.Context) (crawler.PageStore, error) {
	if a.Cfg.DB.DSN == "" {
		a.Logger.Info("no database configured, using in-memory page store")
		return memory.NewPageStore(), nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      a.Cfg.DB.DSN,
		Table:    a.Cfg.DB.Table,
		MaxConns: int32(a.Cfg.DB.MaxConns),
		MinConns: int32(a.Cfg.DB.MinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres page store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) { store.Close() })
	return store, nil
}

func (a *App) buildCache() (crawler.PageCache, error) {
	if a.Cfg.Storage.CachePath == "" {
		return nil, nil
	}
	cache, err := badgercache.Open(badgercache.Config{
		Path:   a.Cfg.Storage.CachePath,
		TTL:    a.Cfg.CacheTTL(),
		Logger: a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open page cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) {
		if err := cache.Close(); err != nil {
			a.Logger.Warn("close page cache", zap.Error(err))
		}
	})
	return cache, nil
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.Cfg.PubSub.ProjectID == "" {
		return nil, nil
	}
	if a.Cfg.PubSub.ProjectID == "memory" {
		return pubmem.New(), nil
	}
	pub, err := pubgcp.New(ctx, a.Cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) {
		if err := pub.Close(); err != nil {
			a.Logger.Warn("close pubsub publisher", zap.Error(err))
		}
	})
	return pub, nil
}

func (a *App) buildHeadless(clock crawler.Clock, logger *zap.Logger) (crawler.Fetcher, error) {
	if !a.Cfg.Headless.Enabled {
		return fetch.NewNoopHeadless(), nil
	}
	headless, err := fetch.NewHeadless(fetch.HeadlessConfig{
		UserAgent:      a.Cfg.Crawler.UserAgent,
		MaxConcurrency: a.Cfg.Headless.MaxConcurrency,
		NavTimeout:     time.Duration(a.Cfg.Headless.NavTimeoutSec) * time.Second,
	}, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) {
		if err := headless.Close(); err != nil {
			logger.Warn("close headless fetcher", zap.Error(err))
		}
	})
	return headless, nil
}

// buildRemoteRouter maps the configured remote hosts onto worker clients,
// round-robin by host hash so a host always lands on the same worker.
func (a *App) buildRemoteRouter(clock crawler.Clock, logger *zap.Logger) (pipeline.RemoteRouter, error) {
	if len(a.Cfg.Fleet.Workers) == 0 || len(a.Cfg.Fleet.RemoteHosts) == 0 {
		return nil, nil
	}
	clients := make([]*remote.Client, 0, len(a.Cfg.Fleet.Workers))
	for _, base := range a.Cfg.Fleet.Workers {
		client, err := remote.NewClient(remote.ClientConfig{
			BaseURL:  base,
			WantBody: true,
		}, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("init worker client %s: %w", base, err)
		}
		clients = append(clients, client)
	}
	routed := make(map[string]crawler.Fetcher, len(a.Cfg.Fleet.RemoteHosts))
	for i, host := range a.Cfg.Fleet.RemoteHosts {
		routed[host] = clients[i%len(clients)]
	}
	return pipeline.RemoteRouterFunc(func(host string) crawler.Fetcher {
		return routed[host]
	}), nil
}
