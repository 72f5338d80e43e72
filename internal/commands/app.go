package commands

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"github.com/dvloznov/statement-pipeline/internal/extraction"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/dvloznov/statement-pipeline/internal/gcsuploader"
	infraBQ "github.com/dvloznov/statement-pipeline/internal/infra/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/ingest"
	"github.com/dvloznov/statement-pipeline/internal/pdftext"
	"github.com/rs/zerolog"
)

type appOptions struct {
	// dryRun keeps everything in memory instead of BigQuery.
	dryRun bool
	// noModel disables the completion collaborator.
	noModel bool
	// archive copies inputs to the configured bucket.
	archive bool
}

// app is the wired pipeline a command runs against.
type app struct {
	orch       *ingest.Orchestrator
	formats    *formats.Store
	categories *enrichment.Categories
	memory     *ingest.MemoryStore

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts appOptions) (*app, error) {
	a := &app{}

	var completer completion.Completer
	if !opts.noModel {
		gc, err := completion.NewGeminiCompleter(ctx, completion.GeminiConfig{
			Model:   cfg.Model.Name,
			APIKey:  cfg.Model.APIKey,
			Timeout: cfg.Model.Timeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("newApp: %w", err)
		}
		completer = gc
	}

	var (
		store       ingest.Store
		formatRepo  formats.Repository
		catStore    enrichment.CategoryStore
		cacheSource enrichment.CacheSource
	)
	if opts.dryRun {
		a.memory = ingest.NewMemoryStore()
		store = a.memory
		formatRepo = formats.NewMemoryRepository()
		catStore = &enrichment.MemoryCategoryStore{}
	} else {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("newApp: %w", err)
		}
		repo, err := infraBQ.NewRepository(ctx, cfg.GCP.ProjectID, cfg.GCP.Dataset)
		if err != nil {
			return nil, fmt.Errorf("newApp: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		store, formatRepo, catStore, cacheSource = repo, repo, repo, repo
	}

	a.formats = formats.NewStore(formatRepo, completer, log)
	a.categories = enrichment.NewCategories(catStore, log)
	extractor := extraction.New(cfg.ExtractionSettings(), pdftext.New(), a.formats, completer, log)
	enricher := enrichment.New(cfg.EnrichmentSettings(), cacheSource, completer, log)
	a.orch = ingest.New(extractor, enricher, a.categories, store, log)

	if opts.archive && !opts.dryRun && cfg.GCP.Bucket != "" {
		archiver, err := gcsuploader.NewArchiver(ctx, cfg.GCP.Bucket)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("newApp: %w", err)
		}
		a.closers = append(a.closers, archiver.Close)
		a.orch.WithArchiver(archiver)
	}

	return a, nil
}

// Close releases the clients the app opened.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
