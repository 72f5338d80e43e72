package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/api"
	"github.com/dvloznov/statement-pipeline/internal/api/handlers"
	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"github.com/dvloznov/statement-pipeline/internal/extraction"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/dvloznov/statement-pipeline/internal/gcsuploader"
	infraBQ "github.com/dvloznov/statement-pipeline/internal/infra/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/ingest"
	"github.com/dvloznov/statement-pipeline/internal/jobs"
	"github.com/dvloznov/statement-pipeline/internal/jobs/inmemory"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/dvloznov/statement-pipeline/internal/pdftext"
	"github.com/shopspring/decimal"
)

func main() {
	var (
		configPath = flag.String("config", "pipeline.yaml", "Path to the YAML config file")
		port       = flag.String("port", "", "HTTP server port (overrides config and PORT)")
	)
	flag.Parse()

	log := logger.WithFields(logger.NewJSON(), map[string]interface{}{"service": "api"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if log, err = logger.WithLevel(log, cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	// Amounts go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	ctx := context.Background()

	repo, err := infraBQ.NewRepository(ctx, cfg.GCP.ProjectID, cfg.GCP.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	completer, err := completion.NewGeminiCompleter(ctx, completion.GeminiConfig{
		Model:   cfg.Model.Name,
		APIKey:  cfg.Model.APIKey,
		Timeout: cfg.Model.Timeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create completion client")
	}

	formatStore := formats.NewStore(repo, completer, log)
	categories := enrichment.NewCategories(repo, log)
	extractor := extraction.New(cfg.ExtractionSettings(), pdftext.New(), formatStore, completer, log)
	enricher := enrichment.New(cfg.EnrichmentSettings(), repo, completer, log)
	orch := ingest.New(extractor, enricher, categories, repo, log)

	if cfg.GCP.Bucket != "" {
		archiver, err := gcsuploader.NewArchiver(ctx, cfg.GCP.Bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create upload archiver")
		}
		defer archiver.Close()
		orch.WithArchiver(archiver)
	} else {
		log.Warn().Msg("No GCS bucket configured - uploads will not be archived")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.QueueSize, cfg.Jobs.Workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, jobs.NewReenhanceHandler(orch, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	router := api.NewRouter(api.Handlers{
		Uploads: handlers.NewUploadsHandler(orch, jobQueue, cfg.Server.MaxUploadBytes, log),
		Catalog: handlers.NewCatalogHandler(formatStore, categories, log),
		Jobs:    handlers.NewJobsHandler(jobStore, log),
	}, cfg.Server.AllowedOrigins, log)

	// Uploads wait on model calls, so the write timeout is generous.
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
