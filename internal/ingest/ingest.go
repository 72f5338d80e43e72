// Package ingest drives one upload end to end: extract every file, enrich
// the combined transactions once, and persist the statement record and its
// transactions.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/detector"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"github.com/dvloznov/statement-pipeline/internal/extraction"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNoFiles is returned when an upload carries no documents.
	ErrNoFiles = errors.New("no files uploaded")
	// ErrNoTransactions is returned when no file yielded a transaction.
	ErrNoTransactions = errors.New("no transactions extracted from any file")
)

// Analysis groups the uploads of one client engagement.
type Analysis struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Statement is the record written once per upload. It carries the metadata
// of the first file in the batch.
type Statement struct {
	ID               string               `json:"id"`
	AnalysisID       string               `json:"analysisId"`
	Filename         string               `json:"filename"`
	Container        domain.ContainerType `json:"container"`
	BankName         string               `json:"bankName"`
	StatementType    domain.StatementType `json:"statementType"`
	Method           domain.Method        `json:"method"`
	Fingerprint      string               `json:"fingerprint,omitempty"`
	LearnedFormatID  string               `json:"learnedFormatId,omitempty"`
	ArchiveURI       string               `json:"archiveUri,omitempty"`
	FileCount        int                  `json:"fileCount"`
	TransactionCount int                  `json:"transactionCount"`
	UploadedAt       time.Time            `json:"uploadedAt"`
}

// StoredTransaction is an enriched transaction with its persistence keys.
type StoredTransaction struct {
	ID          string `json:"id"`
	AnalysisID  string `json:"analysisId"`
	StatementID string `json:"statementId"`
	domain.EnrichedTransaction
}

// Store is the persistence the orchestrator writes to.
type Store interface {
	CreateAnalysis(ctx context.Context, a *Analysis) error
	InsertStatement(ctx context.Context, s *Statement) error
	// InsertTransactions skips rows whose ID already exists and reports how many were written.
	InsertTransactions(ctx context.Context, txs []StoredTransaction) (int64, error)
	ListTransactions(ctx context.Context, analysisID string) ([]StoredTransaction, error)
	UpdateEnrichment(ctx context.Context, txs []StoredTransaction) error
}

// Extractor turns one document into raw transactions. Satisfied by *extraction.Engine.
type Extractor interface {
	Extract(ctx context.Context, doc domain.Document) (extraction.Result, error)
}

// Enricher attaches merchant metadata. Satisfied by *enrichment.Engine.
type Enricher interface {
	Enrich(ctx context.Context, txs []domain.RawTransaction) ([]domain.EnrichedTransaction, error)
}

// CategoryEnsurer creates missing categories. Satisfied by *enrichment.Categories.
type CategoryEnsurer interface {
	Ensure(ctx context.Context, names []string) (int, error)
}

// Archiver keeps a copy of each uploaded file and returns its URI.
type Archiver interface {
	Archive(ctx context.Context, analysisID string, doc domain.Document) (string, error)
}

// Result summarises an ingestion.
type Result struct {
	AnalysisID       string                       `json:"analysisId"`
	StatementID      string                       `json:"statementId,omitempty"`
	TransactionCount int                          `json:"transactionCount"`
	Inserted         int64                        `json:"inserted"`
	Files            []domain.ExtractionMetadata  `json:"files"`
	Transactions     []domain.EnrichedTransaction `json:"transactions"`
}

// Orchestrator runs uploads through extraction, enrichment and persistence.
type Orchestrator struct {
	extractor  Extractor
	enricher   Enricher
	categories CategoryEnsurer
	store      Store
	archiver   Archiver
	log        zerolog.Logger
	now        func() time.Time
}

// New creates an Orchestrator. categories may be nil.
func New(extractor Extractor, enricher Enricher, categories CategoryEnsurer, store Store, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		extractor:  extractor,
		enricher:   enricher,
		categories: categories,
		store:      store,
		log:        log,
		now:        time.Now,
	}
}

// WithArchiver enables upload archival.
func (o *Orchestrator) WithArchiver(a Archiver) *Orchestrator {
	o.archiver = a
	return o
}

// Ingest extracts, enriches and persists docs under analysisID. A failing
// file is logged and skipped; only an empty upload, an upload with no
// transactions at all, or a failed core write is an error.
func (o *Orchestrator) Ingest(ctx context.Context, analysisID string, docs []domain.Document) (*Result, error) {
	return o.ingest(ctx, analysisID, nil, docs)
}

// IngestNew ingests docs into a new analysis called name. The analysis is
// stored only once at least one transaction was extracted, so a rejected
// upload leaves nothing behind.
func (o *Orchestrator) IngestNew(ctx context.Context, name string, docs []domain.Document) (*Result, error) {
	a := &Analysis{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: o.now().UTC(),
	}
	return o.ingest(ctx, a.ID, a, docs)
}

func (o *Orchestrator) ingest(ctx context.Context, analysisID string, pending *Analysis, docs []domain.Document) (*Result, error) {
	if len(docs) == 0 {
		return nil, ErrNoFiles
	}
	log := o.log.With().Str("analysis_id", analysisID).Int("files", len(docs)).Logger()
	log.Info().Msg("Starting ingestion")

	res := &Result{AnalysisID: analysisID}
	var raw []domain.RawTransaction
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("Ingest: %w", err)
		}
		out, err := o.extractor.Extract(ctx, doc)
		if err != nil {
			log.Warn().Err(err).Str("file", doc.Filename).Msg("File produced no transactions, continuing")
		}
		res.Files = append(res.Files, out.Metadata)
		raw = append(raw, out.Transactions...)
	}

	if len(raw) == 0 {
		if pending != nil {
			res.AnalysisID = ""
		}
		return res, ErrNoTransactions
	}

	if pending != nil {
		if err := o.store.CreateAnalysis(ctx, pending); err != nil {
			return nil, fmt.Errorf("Ingest: create analysis: %w", err)
		}
		log.Info().Str("name", pending.Name).Msg("Created analysis")
	}
	archiveURI := o.archive(ctx, analysisID, docs, log)

	enriched, err := o.enricher.Enrich(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("Ingest: enrich: %w", err)
	}
	o.ensureCategories(ctx, enriched)

	first := res.Files[0]
	stmt := &Statement{
		ID:               uuid.New().String(),
		AnalysisID:       analysisID,
		Filename:         first.Filename,
		Container:        first.Container,
		BankName:         first.BankName,
		StatementType:    first.StatementType,
		Method:           first.Method,
		Fingerprint:      first.Fingerprint,
		LearnedFormatID:  first.LearnedFormatID,
		ArchiveURI:       archiveURI,
		FileCount:        len(docs),
		TransactionCount: len(enriched),
		UploadedAt:       o.now().UTC(),
	}
	if err := o.store.InsertStatement(ctx, stmt); err != nil {
		return nil, fmt.Errorf("Ingest: insert statement: %w", err)
	}

	stored := Identify(analysisID, stmt.ID, enriched)
	inserted, err := o.store.InsertTransactions(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("Ingest: insert transactions: %w", err)
	}

	res.StatementID = stmt.ID
	res.TransactionCount = len(enriched)
	res.Inserted = inserted
	res.Transactions = enriched

	log.Info().
		Str("statement_id", stmt.ID).
		Int("transactions", len(enriched)).
		Int64("inserted", inserted).
		Msg("Ingestion complete")
	return res, nil
}

// Reenhance re-runs enrichment over the stored transactions of an analysis
// and writes the enrichment columns back.
func (o *Orchestrator) Reenhance(ctx context.Context, analysisID string) (enhanced, total int, err error) {
	stored, err := o.store.ListTransactions(ctx, analysisID)
	if err != nil {
		return 0, 0, fmt.Errorf("Reenhance: list transactions: %w", err)
	}
	if len(stored) == 0 {
		return 0, 0, nil
	}

	raw := make([]domain.RawTransaction, len(stored))
	for i, s := range stored {
		raw[i] = s.RawTransaction
	}
	enriched, err := o.enricher.Enrich(ctx, raw)
	if err != nil {
		return 0, len(stored), fmt.Errorf("Reenhance: enrich: %w", err)
	}

	var updates []StoredTransaction
	for i := range stored {
		if !enriched[i].Enriched {
			continue
		}
		s := stored[i]
		s.EnrichedTransaction = enriched[i]
		updates = append(updates, s)
	}
	if len(updates) > 0 {
		if err := o.store.UpdateEnrichment(ctx, updates); err != nil {
			return 0, len(stored), fmt.Errorf("Reenhance: update: %w", err)
		}
	}
	o.ensureCategories(ctx, enriched)

	o.log.Info().
		Str("analysis_id", analysisID).
		Int("enhanced", len(updates)).
		Int("total", len(stored)).
		Msg("Re-enhancement complete")
	return len(updates), len(stored), nil
}

// archive copies every supported file and returns the URI of the first one.
func (o *Orchestrator) archive(ctx context.Context, analysisID string, docs []domain.Document, log zerolog.Logger) string {
	if o.archiver == nil {
		return ""
	}
	var first string
	for i, doc := range docs {
		if !detector.Supported(doc.Filename) {
			continue
		}
		uri, err := o.archiver.Archive(ctx, analysisID, doc)
		if err != nil {
			log.Warn().Err(err).Str("file", doc.Filename).Msg("Failed to archive upload")
			continue
		}
		if i == 0 {
			first = uri
		}
	}
	return first
}

func (o *Orchestrator) ensureCategories(ctx context.Context, txs []domain.EnrichedTransaction) {
	if o.categories == nil {
		return
	}
	names := enrichment.CategoriesOf(txs)
	if len(names) == 0 {
		return
	}
	if _, err := o.categories.Ensure(ctx, names); err != nil {
		o.log.Warn().Err(err).Msg("Failed to ensure categories")
	}
}

// Identify assigns deterministic IDs so a re-uploaded statement does not
// duplicate rows. Identical rows within one upload are told apart by their
// occurrence number.
func Identify(analysisID, statementID string, txs []domain.EnrichedTransaction) []StoredTransaction {
	occurrences := make(map[string]int)
	out := make([]StoredTransaction, len(txs))
	for i, tx := range txs {
		base := analysisID + "|" + tx.Date.String() + "|" + tx.Description + "|" + tx.Amount.StringFixed(2)
		n := occurrences[base]
		occurrences[base] = n + 1

		sum := sha256.Sum256([]byte(base + "|" + strconv.Itoa(n)))
		out[i] = StoredTransaction{
			ID:                  hex.EncodeToString(sum[:16]),
			AnalysisID:          analysisID,
			StatementID:         statementID,
			EnrichedTransaction: tx,
		}
	}
	return out
}
