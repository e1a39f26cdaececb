package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumina-search/lumina-backend/api/routes"
	"github.com/lumina-search/lumina-backend/internal/batch"
	"github.com/lumina-search/lumina-backend/internal/images"
	"github.com/lumina-search/lumina-backend/internal/indexer"
	"github.com/lumina-search/lumina-backend/internal/jobs"
	"github.com/lumina-search/lumina-backend/internal/pipeline"
	"github.com/lumina-search/lumina-backend/internal/search"
	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db"
	"github.com/lumina-search/lumina-backend/pkg/inference"
	"github.com/lumina-search/lumina-backend/pkg/logger"
	"github.com/lumina-search/lumina-backend/pkg/metrics"
	"github.com/lumina-search/lumina-backend/pkg/migrate"
	"github.com/lumina-search/lumina-backend/pkg/redis"
	searchclient "github.com/lumina-search/lumina-backend/pkg/search"
	"github.com/lumina-search/lumina-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	gcsClient, err := gcs.NewClient(context.Background(), cfg.Storage, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap object storage", err)
		os.Exit(1)
	}

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

	imagesService, err := images.NewService(images.NewRepository(dbClient.DB()), gcsClient, indexClient, cfg.Upload.MaxUploadMB)
	if err != nil {
		logg.Error(context.Background(), "failed to create images service", err)
		os.Exit(1)
	}

	searchService, err := search.NewService(search.NewRepository(dbClient.DB()), indexClient, inferenceClient, cfg.Search.PublicBaseURL)
	if err != nil {
		logg.Error(context.Background(), "failed to create search service", err)
		os.Exit(1)
	}

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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gcsClient,
			indexClient,
			imagesService,
			searchService,
			batchService,
			coordinator,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
