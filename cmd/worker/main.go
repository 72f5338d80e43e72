package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"github.com/dvloznov/statement-pipeline/internal/extraction"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	infraBQ "github.com/dvloznov/statement-pipeline/internal/infra/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/ingest"
	"github.com/dvloznov/statement-pipeline/internal/jobs"
	"github.com/dvloznov/statement-pipeline/internal/jobs/inmemory"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/dvloznov/statement-pipeline/internal/pdftext"
)

// worker re-enriches a batch of stored analyses through the job queue,
// then exits once every job has finished.
func main() {
	var (
		configPath = flag.String("config", "pipeline.yaml", "Path to the YAML config file")
		workers    = flag.Int("workers", 0, "Concurrent workers (defaults to jobs.workers from config)")
	)
	flag.Parse()

	log := logger.WithFields(logger.New(), map[string]interface{}{"service": "worker"})

	analysisIDs := flag.Args()
	if len(analysisIDs) == 0 {
		log.Fatal().Msg("Usage: worker [-config FILE] [-workers N] ANALYSIS_ID...")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if log, err = logger.WithLevel(log, cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if *workers <= 0 {
		*workers = cfg.Jobs.Workers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(len(analysisIDs), *workers, jobStore)

	log.Info().Int("workers", *workers).Int("analyses", len(analysisIDs)).Msg("Starting worker")

	if err := jobQueue.Start(ctx, jobs.NewReenhanceHandler(orch, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	results, runErr := runBatch(ctx, jobQueue, jobStore, analysisIDs, cfg.Jobs.MaxRetries, 500*time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	failed := 0
	for _, job := range results {
		fmt.Printf("%s\t%s\t%d/%d\t%s\n", job.AnalysisID, job.Status, job.Enhanced, job.Total, job.Error)
		if job.Status != jobs.JobStatusCompleted {
			failed++
		}
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("Worker interrupted")
		os.Exit(1)
	}
	if failed > 0 {
		log.Error().Int("failed", failed).Msg("Some analyses could not be re-enhanced")
		os.Exit(1)
	}
	log.Info().Msg("Worker finished")
}
