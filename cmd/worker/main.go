package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumina-search/lumina-backend/internal/batch"
	"github.com/lumina-search/lumina-backend/internal/indexer"
	"github.com/lumina-search/lumina-backend/internal/jobs"
	"github.com/lumina-search/lumina-backend/internal/pipeline"
	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db"
	"github.com/lumina-search/lumina-backend/pkg/inference"
	"github.com/lumina-search/lumina-backend/pkg/instance"
	"github.com/lumina-search/lumina-backend/pkg/logger"
	"github.com/lumina-search/lumina-backend/pkg/metrics"
	"github.com/lumina-search/lumina-backend/pkg/migrate"
	"github.com/lumina-search/lumina-backend/pkg/pubsub"
	"github.com/lumina-search/lumina-backend/pkg/redis"
	searchclient "github.com/lumina-search/lumina-backend/pkg/search"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "pipeline-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "pipeline-worker"

	logg = logger.New(logger.Options{
		ServiceName: "pipeline-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	indexClient, err := searchclient.NewClient(context.Background(), cfg.Search, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap search index", err)
		os.Exit(1)
	}

	inferenceClient, err := inference.NewClient(cfg.Inference, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap inference client", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	batchService, err := batch.NewService(batch.NewRepository(dbClient.DB()), inferenceClient, pipelineMetrics, cfg.Pipeline)
	if err != nil {
		logg.Error(context.Background(), "failed to create batch service", err)
		os.Exit(1)
	}

	jobsService, err := jobs.NewService(jobs.NewRepository(dbClient.DB()), inferenceClient, pipelineMetrics, cfg.Pipeline)
	if err != nil {
		logg.Error(context.Background(), "failed to create jobs service", err)
		os.Exit(1)
	}

	indexerService, err := indexer.NewService(indexer.NewRepository(dbClient.DB()), indexClient, pipelineMetrics, cfg.Pipeline)
	if err != nil {
		logg.Error(context.Background(), "failed to create indexer service", err)
		os.Exit(1)
	}

	lock, err := pipeline.NewRedisLock(redisClient, redisClient.LockKey("pipeline:"+cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create pipeline lock", err)
		os.Exit(1)
	}

	coordinator, err := pipeline.NewService(pipeline.ServiceParams{
		Logger:     logg,
		Lock:       lock,
		Submitter:  batchService,
		Tracker:    jobsService,
		Reconciler: indexerService,
		Guard:      redisClient,
		Metrics:    pipelineMetrics,
		Config:     cfg.Pipeline,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pipeline coordinator", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	if cfg.FeatureFlags.UsePushJobs && cfg.PubSub.JobEventsSubscription != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(ctx, "error closing pubsub", err)
			}
		}()

		consumer, err := pipeline.NewJobEventsConsumer(coordinator, pubsubClient.JobEventsSubscription(), logg)
		if err != nil {
			logg.Error(ctx, "failed to create job events consumer", err)
			os.Exit(1)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "job events consumer stopped unexpectedly", err)
			}
		}()
		logg.Info(ctx, "job events consumer started")
	}

	logg.Info(ctx, "starting pipeline worker")

	if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "pipeline worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "pipeline worker shutting down gracefully")
}
