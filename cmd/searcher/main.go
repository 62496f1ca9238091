package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/api"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/lifecycle"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/match"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/search"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/sor"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/telemetry"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/health"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/kafka"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/logger"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/middleware"
	pkgnats "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/nats"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/opensearch"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/postgres"
	pkgredis "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := opensearch.New(cfg.OpenSearch)
	if err != nil {
		slog.Error("failed to create document store client", "error", err)
		os.Exit(1)
	}
	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		slog.Error("failed to migrate postgres", "error", err)
		os.Exit(1)
	}
	queue, err := pkgnats.Connect(ctx, cfg.NATS)
	if err != nil {
		slog.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	var searchCache *search.Cache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		searchCache = search.NewCache(redisClient, cfg.Redis.CacheTTL, m)
		slog.Info("search cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	telemetryProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Telemetry)
	defer telemetryProducer.Close()
	collector := telemetry.NewCollector(telemetryProducer, 10000, m)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("telemetry collector started", "topic", cfg.Kafka.Topics.Telemetry)

	prisonAPI := sor.NewClient(cfg.PrisonAPI, m)
	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		Status:         lifecycle.NewPostgresStatusStore(pg),
		Store:          docs,
		Queue:          queue,
		Source:         prisonAPI,
		IndexPrefix:    cfg.OpenSearch.IndexPrefix,
		Index:          cfg.Index,
		SourcePageSize: cfg.PrisonAPI.PageSize,
		Metrics:        m,
		Reporter:       collector,
	})
	defer manager.Close()

	opts := []search.Option{search.WithMetrics(m)}
	if searchCache != nil {
		opts = append(opts, search.WithCache(searchCache))
	}
	svc := search.NewService(docs, cfg.Search, opts...)
	matcher := match.NewEngine(docs, cfg.Search.MaxPageSize, m)
	h := api.New(svc, matcher, manager, searchCache, collector)

	checker := health.NewChecker()
	checker.Register("opensearch", health.PingCheck(docs, false))
	checker.Register("postgres", health.PingCheck(pg, false))
	checker.Register("nats", health.PingCheck(queue, true))
	checker.Register("prison_api", health.PingCheck(prisonAPI, true))
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient, true))
	} else {
		checker.Register("redis", health.PingCheck(nil, true))
	}

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Recover(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ListenAndServe returns as soon as Shutdown starts; the deferred closes
	// wait for in-flight requests via shutdownDone.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-shutdownDone

	slog.Info("search service stopped")
}
