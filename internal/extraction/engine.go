// Package extraction turns uploaded statements into raw transactions. PDFs go
// through an ordered chain of strategies (learned format, pattern, model
// assisted); CSV, image, OFX and QIF files each have their own path.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/detector"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/fingerprint"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/dvloznov/statement-pipeline/internal/pdftext"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config tunes the engine.
type Config struct {
	CSVBatchSize           int
	CSVBatchInterval       time.Duration
	MaxAssistedChars       int
	MinPatternTransactions int
	AcceptedYears          []int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		CSVBatchSize:           50,
		CSVBatchInterval:       2 * time.Second,
		MaxAssistedChars:       30000,
		MinPatternTransactions: 5,
		AcceptedYears:          []int{2024, 2025},
	}
}

// FormatStore is the part of the format learning store the engine needs.
// Satisfied by *formats.Store.
type FormatStore interface {
	Lookup(ctx context.Context, fingerprint string) (*formats.LearnedFormat, error)
	RecordUsage(ctx context.Context, id string) error
	Learn(ctx context.Context, req formats.LearnRequest) (*formats.LearnedFormat, error)
}

// TextExtractor pulls the text layer from a PDF. Satisfied by *pdftext.Extractor.
type TextExtractor interface {
	Extract(data []byte) (string, error)
}

// Result is the outcome of extracting one file.
type Result struct {
	Transactions []domain.RawTransaction
	Metadata     domain.ExtractionMetadata
}

// Engine extracts transactions from documents.
type Engine struct {
	cfg       Config
	pdf       TextExtractor
	formats   FormatStore
	completer completion.Completer
	csvPacer  *rate.Limiter
	log       zerolog.Logger
}

// New creates an Engine. store and completer may be nil; the engine then
// runs only its deterministic strategies.
func New(cfg Config, pdf TextExtractor, store FormatStore, completer completion.Completer, log zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.CSVBatchSize <= 0 {
		cfg.CSVBatchSize = def.CSVBatchSize
	}
	if cfg.MaxAssistedChars <= 0 {
		cfg.MaxAssistedChars = def.MaxAssistedChars
	}
	if cfg.MinPatternTransactions <= 0 {
		cfg.MinPatternTransactions = def.MinPatternTransactions
	}

	limit := rate.Inf
	if cfg.CSVBatchInterval > 0 {
		limit = rate.Every(cfg.CSVBatchInterval)
	}

	return &Engine{
		cfg:       cfg,
		pdf:       pdf,
		formats:   store,
		completer: completer,
		csvPacer:  rate.NewLimiter(limit, 1),
		log:       log,
	}
}

// Extract processes one document. The returned Result always carries
// metadata; the error reports why the file yielded no transactions.
// Callers treat it as a per-file failure.
func (e *Engine) Extract(ctx context.Context, doc domain.Document) (Result, error) {
	meta := domain.ExtractionMetadata{
		Filename:      doc.Filename,
		Container:     detector.ContainerOf(doc.Filename),
		BankName:      domain.UnknownBank,
		StatementType: domain.StatementUnknown,
	}
	log := e.log.With().Str("file", doc.Filename).Str("container", string(meta.Container)).Logger()

	var (
		txs []domain.RawTransaction
		err error
	)
	switch meta.Container {
	case domain.ContainerPDF:
		txs, err = e.extractPDF(ctx, doc, &meta)
	case domain.ContainerCSV:
		txs, err = e.extractCSV(ctx, doc, &meta)
	case domain.ContainerImage:
		txs, err = e.extractImage(ctx, doc, &meta)
	case domain.ContainerOFX:
		txs, err = e.extractOFX(ctx, doc, &meta)
	case domain.ContainerQIF:
		meta.Method = domain.MethodQIFAssisted
		txs, err = e.assistedFile(ctx, "QIF", doc.Data)
	default:
		meta.Method = domain.MethodSkipped
		log.Warn().Msg("Unsupported file type, skipping")
		return Result{Metadata: meta}, nil
	}

	if err == nil && len(txs) == 0 {
		err = errors.New("no transactions extracted")
	}
	if err != nil {
		if len(txs) == 0 {
			meta.Method = domain.MethodFailed
		}
		meta.Error = err.Error()
		meta.TransactionCount = len(txs)
		log.Error().Err(err).Int("transactions", len(txs)).Msg("Extraction failed")
		return Result{Transactions: txs, Metadata: meta}, fmt.Errorf("Extract: %s: %w", doc.Filename, err)
	}

	meta.TransactionCount = len(txs)
	log.Info().
		Str("method", string(meta.Method)).
		Str("bank", meta.BankName).
		Int("transactions", len(txs)).
		Msg("Extracted transactions")
	return Result{Transactions: txs, Metadata: meta}, nil
}

func (e *Engine) extractPDF(ctx context.Context, doc domain.Document, meta *domain.ExtractionMetadata) ([]domain.RawTransaction, error) {
	if e.pdf == nil {
		return nil, errors.New("no pdf text extractor configured")
	}
	text, err := e.pdf.Extract(doc.Data)
	if errors.Is(err, pdftext.ErrNoText) {
		// Scanned statement: let the vision model read the pages.
		e.log.Info().Str("file", doc.Filename).Msg("PDF has no text layer, using vision model")
		meta.Method = domain.MethodVision
		return e.vision(ctx, "application/pdf", doc.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("extractPDF: %w", err)
	}

	meta.BankName, meta.StatementType = detector.DetectBank(text)
	meta.Fingerprint = fingerprint.Compute(text)

	var learned *formats.LearnedFormat
	if e.formats != nil {
		learned, err = e.formats.Lookup(ctx, meta.Fingerprint)
		if err != nil {
			e.log.Warn().Err(err).Str("file", doc.Filename).Msg("Learned format lookup failed, continuing without it")
			learned = nil
		}
	}

	var chain []Strategy
	if learned != nil {
		chain = append(chain, &learnedStrategy{format: learned})
	}
	chain = append(chain, &patternStrategy{minTransactions: e.cfg.MinPatternTransactions})
	if e.completer != nil {
		chain = append(chain, &assistedStrategy{
			completer:     e.completer,
			maxChars:      e.cfg.MaxAssistedChars,
			acceptedYears: e.cfg.AcceptedYears,
			bankName:      meta.BankName,
			log:           e.log,
		})
	}

	txs, method, err := runChain(ctx, e.log.With().Str("file", doc.Filename).Logger(), text, chain)
	meta.Method = method
	if err != nil {
		return nil, err
	}

	switch method {
	case domain.MethodLearned:
		meta.LearnedFormatID = learned.ID
		if err := e.formats.RecordUsage(ctx, learned.ID); err != nil {
			e.log.Warn().Err(err).Str("format_id", learned.ID).Msg("Failed to record learned format usage")
		}
	case domain.MethodAssisted:
		if e.formats != nil && learned == nil && meta.BankName != domain.UnknownBank {
			e.learn(ctx, text, txs, meta)
		}
	}
	return txs, nil
}

// learn stores a procedure for this layout. Failure keeps the assisted result.
func (e *Engine) learn(ctx context.Context, text string, txs []domain.RawTransaction, meta *domain.ExtractionMetadata) {
	f, err := e.formats.Learn(ctx, formats.LearnRequest{
		BankName:      meta.BankName,
		StatementType: meta.StatementType,
		FullText:      text,
		Fingerprint:   meta.Fingerprint,
		Samples:       txs,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("bank", meta.BankName).Msg("Format learning failed, keeping assisted result")
		return
	}
	meta.LearnedFormatID = f.ID
	e.log.Info().Str("bank", meta.BankName).Str("format_id", f.ID).Msg("Learned new statement format")
}

func (e *Engine) extractImage(ctx context.Context, doc domain.Document, meta *domain.ExtractionMetadata) ([]domain.RawTransaction, error) {
	meta.Method = domain.MethodVision
	return e.vision(ctx, imageMIME(doc.Filename), doc.Data)
}

func (e *Engine) vision(ctx context.Context, mimeType string, data []byte) ([]domain.RawTransaction, error) {
	if e.completer == nil {
		return nil, errors.New("no completion backend configured")
	}
	raw, err := e.completer.Complete(ctx, completion.Request{
		Prompt:      visionPrompt(),
		Attachments: []completion.Attachment{{MIMEType: mimeType, Data: data}},
	})
	if err != nil {
		return nil, fmt.Errorf("vision: model call: %w", err)
	}
	return decodeTransactions(raw, nil, e.log)
}

// assistedFile sends a whole text export to the model.
func (e *Engine) assistedFile(ctx context.Context, format string, data []byte) ([]domain.RawTransaction, error) {
	if e.completer == nil {
		return nil, errors.New("no completion backend configured")
	}
	content := string(data)
	if r := []rune(content); len(r) > e.cfg.MaxAssistedChars {
		content = string(r[:e.cfg.MaxAssistedChars])
	}
	raw, err := e.completer.Complete(ctx, completion.Request{Prompt: fileFormatPrompt(format, content)})
	if err != nil {
		return nil, fmt.Errorf("assistedFile: %s: model call: %w", format, err)
	}
	return decodeTransactions(raw, nil, e.log)
}

func imageMIME(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
