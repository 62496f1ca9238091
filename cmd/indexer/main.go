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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/changedetect"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/hash"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/indexer/consumer"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/indexer/rebuild"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/lifecycle"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/notify"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/sor"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/telemetry"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/health"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/kafka"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/logger"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
	pkgnats "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/nats"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/opensearch"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/postgres"
)

const queueMetricsInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service")
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

	telemetryProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Telemetry)
	defer telemetryProducer.Close()
	collector := telemetry.NewCollector(telemetryProducer, 10000, m)
	collector.Start(ctx)
	defer collector.Close()

	notificationProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Notifications)
	defer notificationProducer.Close()
	deadLetterProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DeadLetter)
	defer deadLetterProducer.Close()

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
	engine := changedetect.NewEngine(changedetect.Config{
		Source:    prisonAPI,
		Store:     docs,
		Hashes:    hash.NewPostgresStore(pg),
		Publisher: notify.NewKafkaPublisher(notificationProducer, m),
		Status:    manager,
		Metrics:   m,
		Reporter:  collector,
	})

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DomainEvents,
		consumer.HandleMessage(engine, prisonAPI),
		deadLetterProducer,
	)
	indexConsumer := consumer.New(kafkaConsumer)
	worker := rebuild.NewWorker(queue, engine, manager, collector)

	checker := health.NewChecker()
	checker.Register("opensearch", health.PingCheck(docs, false))
	checker.Register("postgres", health.PingCheck(pg, false))
	checker.Register("nats", health.PingCheck(queue, false))
	checker.Register("prison_api", health.PingCheck(prisonAPI, true))

	shutdownOps := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
		"GET /health/live":  checker.LiveHandler(),
		"GET /health/ready": checker.ReadyHandler(),
	})
	defer shutdownOps(context.Background())

	slog.Info("indexer service ready",
		"topic", cfg.Kafka.Topics.DomainEvents,
		"group", cfg.Kafka.ConsumerGroup,
		"rebuild_stream", cfg.NATS.Stream,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return indexConsumer.Start(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(queueMetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := manager.RefreshQueueMetrics(gctx); err != nil {
					slog.Warn("refreshing rebuild queue metrics failed", "error", err)
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		slog.Error("indexer error", "error", err)
	}

	slog.Info("indexer service stopped")
}
