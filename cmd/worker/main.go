// Command worker consumes annotation.job.requested events, annotates each
// document and publishes the outcome.  It serves probes and metrics on
// server.port and optionally keeps dictionaries in sync with the object store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	appannotation "github.com/turtacn/BioAnnotator/internal/application/annotation"
	"github.com/turtacn/BioAnnotator/internal/bootstrap"
	"github.com/turtacn/BioAnnotator/internal/config"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/search/opensearch"
	grpcapi "github.com/turtacn/BioAnnotator/internal/interfaces/grpc"
	httpapi "github.com/turtacn/BioAnnotator/internal/interfaces/http"
	"github.com/turtacn/BioAnnotator/internal/interfaces/http/handlers"
	"github.com/turtacn/BioAnnotator/internal/interfaces/http/middleware"
)

// Build-time variables injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	concurrency := flag.Int("concurrency", 0, "concurrent jobs (default: worker.concurrency)")
	flag.Parse()

	if err := run(*configPath, *concurrency); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, concurrency int) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if concurrency > 0 {
		cfg.Worker.Concurrency = concurrency
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.Named("worker")
	logger.Info("starting annotation worker",
		logging.String("version", version),
		logging.Int("concurrency", cfg.Worker.Concurrency),
		logging.String("job_topic", cfg.Kafka.JobTopic))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(cfg, bootstrap.Needs{
		Postgres:   cfg.Database.Host != "",
		Redis:      cfg.Redis.Addr != "",
		MinIO:      cfg.MinIO.Endpoint != "",
		OpenSearch: len(cfg.OpenSearch.Addresses) > 0,
	}, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	metrics, collector, err := bootstrap.NewMetrics(logger)
	if err != nil {
		return err
	}

	annotator, err := bootstrap.BuildAnnotator(cfg, infra, metrics, logger)
	if err != nil {
		return err
	}
	defer annotator.Close()

	var sinks []appannotation.NamedSink
	if infra.OpenSearch != nil {
		indexer := opensearch.NewIndexer(infra.OpenSearch, bootstrap.IndexerConfig(cfg.OpenSearch), logger)
		if err := indexer.EnsureIndex(ctx); err != nil {
			return err
		}
		sinks = append(sinks, appannotation.NamedSink{Name: "opensearch", Sink: indexer})
	}

	svc, err := bootstrap.BuildService(annotator, infra, sinks, metrics, logger)
	if err != nil {
		return err
	}

	if cfg.Kafka.AutoCreateTopics {
		if err := ensureTopics(ctx, cfg.Kafka, logger); err != nil {
			return err
		}
	}

	producer, err := kafka.NewProducer(bootstrap.ProducerConfig(cfg.Kafka), logger)
	if err != nil {
		return err
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(bootstrap.ConsumerConfig(cfg.Kafka, cfg.Worker), logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	jobs := appannotation.NewJobHandler(svc, producer, cfg.Kafka.ResultTopic, logger,
		appannotation.WithJobTimeout(cfg.Worker.JobTimeout),
		appannotation.WithJobMetrics(metrics),
	)
	consumer.Subscribe(cfg.Kafka.JobTopic, jobs.Handle)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Mode:             cfg.Server.Mode,
		HealthHandler:    handlers.NewHealthHandler(version, metrics, handlers.Checkers(infra.Checks())...),
		MetricsCollector: collector,
		Logger:           logger,
		Logging:          middleware.DefaultLoggingConfig(),
	})
	server := httpapi.NewServer(cfg.Server, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return server.Stop(context.Background())
	})
	if err := consumer.Start(gctx); err != nil {
		return err
	}
	if cfg.Server.GRPCPort > 0 {
		health := grpcapi.NewServer(cfg.Server.GRPCPort,
			grpcapi.WithLogger(logger),
			grpcapi.WithReflection(cfg.Server.Mode == "debug"),
			grpcapi.WithGracefulTimeout(cfg.Server.ShutdownTimeout),
		)
		checks := make(map[string]grpcapi.Check)
		for name, fn := range infra.Checks() {
			checks[name] = fn
		}
		g.Go(health.Start)
		g.Go(func() error {
			health.Monitor(gctx, cfg.Server.ProbeInterval, checks)
			return health.Stop(context.Background())
		})
	}
	if cfg.Dictionary.Watch {
		g.Go(func() error {
			return annotator.Registry.Watch(gctx, cfg.Dictionary.WatchDebounce)
		})
	}
	if infra.MinIO != nil && cfg.Dictionary.SyncInterval > 0 {
		syncer, err := bootstrap.BuildSyncer(cfg, infra, annotator.Registry, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			syncer.Run(gctx, cfg.Dictionary.SyncInterval)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutting down; draining in-flight jobs")
	if cerr := consumer.Close(); cerr != nil {
		logger.Warn("consumer close failed", logging.Err(cerr))
	}
	if err != nil {
		return err
	}
	logger.Info("annotation worker stopped")
	return nil
}

func ensureTopics(ctx context.Context, cfg config.KafkaConfig, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(cfg.Brokers, logger)
	if err != nil {
		return err
	}
	defer tm.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return tm.EnsureTopics(ctx, kafka.AnnotationTopics(
		cfg.JobTopic, cfg.ResultTopic, cfg.DLQTopic, cfg.NumPartitions, cfg.ReplicationFactor))
}
