// Package app wires the platform's components from configuration. The CLI
// builds one App per command; serve additionally starts the background
// workers and mounts the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bgde/vocab-platform/internal/analytics"
	"github.com/bgde/vocab-platform/internal/content"
	"github.com/bgde/vocab-platform/internal/content/client"
	reviewhandler "github.com/bgde/vocab-platform/internal/review/handler"
	"github.com/bgde/vocab-platform/internal/review/session"
	"github.com/bgde/vocab-platform/internal/review/store"
	"github.com/bgde/vocab-platform/internal/search/cache"
	"github.com/bgde/vocab-platform/internal/search/engine"
	searchhandler "github.com/bgde/vocab-platform/internal/search/handler"
	"github.com/bgde/vocab-platform/internal/syncqueue"
	"github.com/bgde/vocab-platform/pkg/config"
	"github.com/bgde/vocab-platform/pkg/database"
	"github.com/bgde/vocab-platform/pkg/health"
	"github.com/bgde/vocab-platform/pkg/kafka"
	"github.com/bgde/vocab-platform/pkg/metrics"
	"github.com/bgde/vocab-platform/pkg/middleware"
	pkgredis "github.com/bgde/vocab-platform/pkg/redis"
	"github.com/bgde/vocab-platform/pkg/tracing"
)

type Options struct {
	// Metrics enables instrumentation. Nil leaves components uninstrumented.
	Metrics *metrics.Metrics
	// Services connects the optional Redis, Kafka and sync endpoint
	// integrations configured in Config.
	Services bool
}

type App struct {
	Config    *config.Config
	Metrics   *metrics.Metrics
	Store     *store.Store
	Content   *client.Client
	Catalog   *content.Catalog
	Engine    *engine.Engine
	Sessions  *session.Manager
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Queue     *syncqueue.Queue
	Sender    *syncqueue.HTTPSender

	redis   *pkgredis.Client
	closers []func() error
	logger  *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{
		Config:  cfg,
		Metrics: opts.Metrics,
		Catalog: content.NewCatalog(content.Data{}),
		logger:  slog.Default().With("component", "app"),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening review database: %w", err)
	}
	a.Store, err = store.New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	clientOpts := []client.Option{client.WithMetrics(opts.Metrics)}
	if opts.Services && cfg.Redis.Enabled {
		a.redis, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			a.logger.Warn("redis unavailable, caching disabled", "error", err)
		} else {
			a.closers = append(a.closers, a.redis.Close)
			a.Cache = cache.New(a.redis, cfg.Redis.CacheTTL, opts.Metrics)
			clientOpts = append(clientOpts, client.WithResponseCache(a.redis))
			a.logger.Info("redis caching enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	a.Content = client.New(cfg.Content, clientOpts...)

	a.Engine = engine.New(engine.ConfigFrom(cfg.Search, cfg.Review),
		engine.WithPhaseSource(a.Store),
		engine.WithMetrics(opts.Metrics),
	)

	var searchPub, reviewPub analytics.Publisher
	if opts.Services && cfg.Kafka.Enabled {
		sp := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		rp := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ReviewEvents)
		a.closers = append(a.closers, sp.Close, rp.Close)
		searchPub, reviewPub = sp, rp
		a.logger.Info("analytics publishing enabled", "brokers", cfg.Kafka.Brokers)
	}
	a.Collector = analytics.NewCollector(searchPub, reviewPub, 0)
	a.Collector.Start(context.WithoutCancel(ctx))

	sessionOpts := []session.Option{
		session.WithTracker(a.Collector),
		session.WithMetrics(opts.Metrics),
	}
	if opts.Services && cfg.Sync.Enabled {
		if err := a.openQueue(); err != nil {
			return nil, err
		}
		sessionOpts = append(sessionOpts, session.WithQueue(a.Queue))
	}
	a.Sessions = session.NewManager(a.Store, a.Catalog, session.Config{
		DefaultDirection: cfg.Review.DefaultDirection,
		Size:             cfg.Review.SessionSize,
		TTL:              cfg.Review.SessionTTL,
	}, sessionOpts...)
	return a, nil
}

// OpenQueue opens the sync queue on an App built without services.
func (a *App) OpenQueue() error {
	if a.Queue != nil {
		return nil
	}
	if !a.Config.Sync.Enabled {
		return errors.New("sync is disabled; set sync.enabled and sync.endpoint")
	}
	return a.openQueue()
}

func (a *App) openQueue() error {
	cfg := a.Config.Sync
	if err := os.MkdirAll(filepath.Dir(cfg.QueuePath), 0o755); err != nil {
		return fmt.Errorf("creating sync queue directory: %w", err)
	}
	a.Sender = syncqueue.NewHTTPSender(cfg.Endpoint, a.Config.Content.Timeout, a.Metrics)
	q, err := syncqueue.Open(cfg.QueuePath, a.Sender, syncqueue.Options{
		Size:       cfg.QueueSize,
		MaxRetries: cfg.MaxRetries,
		Metrics:    a.Metrics,
	})
	if err != nil {
		return err
	}
	a.Queue = q
	a.closers = append(a.closers, q.Close)
	return nil
}

// Reload fetches all content, swaps the catalog and rebuilds the index.
func (a *App) Reload(ctx context.Context) (res engine.BuildResult, err error) {
	ctx, span := tracing.Start(ctx, "reload")
	defer func() { span.End(err) }()

	a.Content.ClearCache()
	loadCtx, load := tracing.Start(ctx, "load_content")
	data, err := a.Content.LoadData(loadCtx)
	load.Set("vocabulary", len(data.Vocabulary))
	load.Set("grammar", len(data.Grammar))
	load.End(err)
	if err != nil {
		return engine.BuildResult{}, fmt.Errorf("loading content: %w", err)
	}
	a.Catalog.Replace(data)

	buildCtx, build := tracing.Start(ctx, "build_index")
	res, err = a.Engine.BuildIndex(buildCtx, data.Documents())
	build.Set("indexed", res.Indexed)
	build.Set("terms", res.Terms)
	build.End(err)
	return res, err
}

// Load is like Reload but serves data already in hand, as after an import.
func (a *App) Load(ctx context.Context, data content.Data) (engine.BuildResult, error) {
	a.Catalog.Replace(data)
	return a.Engine.BuildIndex(ctx, data.Documents())
}

// Handler returns the HTTP API with the standard middleware chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	searchhandler.New(a.Engine, a.Cache, a.Collector, a.Metrics, a.Reload).Register(mux)
	reviewhandler.New(a.Sessions).Register(mux)
	if a.Queue != nil {
		syncqueue.NewHandler(a.Queue).Register(mux)
	}

	checker := a.healthChecker()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(a.Config.Server.WriteTimeout)(chain)
	if a.Metrics != nil {
		chain = middleware.Metrics(a.Metrics)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig(a.Config.Server.AllowOrigins))(chain)
	chain = middleware.RequestID(chain)
	return chain
}

func (a *App) healthChecker() *health.Checker {
	checker := health.NewChecker()
	checker.Register("search_index", func(ctx context.Context) health.ComponentHealth {
		if !a.Engine.Ready() {
			return health.ComponentHealth{Status: health.StatusDown, Message: "index not built"}
		}
		info := a.Engine.IndexInfo()
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents", info.DocumentCount)}
	})
	checker.Register("review_store", health.PingCheck(a.Store.Ping, health.StatusDown))
	if a.redis != nil {
		checker.Register("redis", health.PingCheck(a.redis.Ping, health.StatusDegraded))
	}
	if a.Sender != nil {
		checker.Register("sync_endpoint", health.PingCheck(a.Sender.Probe, health.StatusDegraded))
	}
	return checker
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	if a.Collector != nil {
		a.Collector.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
