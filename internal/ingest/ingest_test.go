package ingest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/extraction"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExtractor struct {
	ExtractFunc func(ctx context.Context, doc domain.Document) (extraction.Result, error)
}

func (m *mockExtractor) Extract(ctx context.Context, doc domain.Document) (extraction.Result, error) {
	return m.ExtractFunc(ctx, doc)
}

type mockEnricher struct {
	calls      int
	EnrichFunc func(ctx context.Context, txs []domain.RawTransaction) ([]domain.EnrichedTransaction, error)
}

func (m *mockEnricher) Enrich(ctx context.Context, txs []domain.RawTransaction) ([]domain.EnrichedTransaction, error) {
	m.calls++
	return m.EnrichFunc(ctx, txs)
}

type mockCategories struct {
	names []string
}

func (m *mockCategories) Ensure(ctx context.Context, names []string) (int, error) {
	m.names = append(m.names, names...)
	return len(names), nil
}

type mockArchiver struct {
	ArchiveFunc func(ctx context.Context, analysisID string, doc domain.Document) (string, error)
}

func (m *mockArchiver) Archive(ctx context.Context, analysisID string, doc domain.Document) (string, error) {
	return m.ArchiveFunc(ctx, analysisID, doc)
}

type failingStore struct {
	*MemoryStore
	insertErr error
}

func (f *failingStore) InsertTransactions(ctx context.Context, txs []StoredTransaction) (int64, error) {
	return 0, f.insertErr
}

func rawTx(day int, desc string, amount string) domain.RawTransaction {
	return domain.RawTransaction{
		Date:        civil.Date{Year: 2024, Month: 7, Day: day},
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Merchant:    desc,
	}
}

// byFilename extracts canned results keyed by filename; unknown files fail.
func byFilename(results map[string][]domain.RawTransaction) *mockExtractor {
	return &mockExtractor{ExtractFunc: func(ctx context.Context, doc domain.Document) (extraction.Result, error) {
		meta := domain.ExtractionMetadata{Filename: doc.Filename, BankName: "Westpac", Method: domain.MethodPattern}
		txs, ok := results[doc.Filename]
		if !ok {
			meta.Method = domain.MethodFailed
			meta.Error = "unreadable"
			return extraction.Result{Metadata: meta}, errors.New("unreadable")
		}
		meta.TransactionCount = len(txs)
		return extraction.Result{Transactions: txs, Metadata: meta}, nil
	}}
}

func categorising() *mockEnricher {
	return &mockEnricher{EnrichFunc: func(ctx context.Context, txs []domain.RawTransaction) ([]domain.EnrichedTransaction, error) {
		out := domain.PassThrough(txs)
		for i := range out {
			out[i].Category = "Groceries"
			out[i].Enriched = true
		}
		return out, nil
	}}
}

func newTestOrchestrator(ex Extractor, en Enricher, cats CategoryEnsurer, store Store) *Orchestrator {
	return New(ex, en, cats, store, logger.NewWithWriter(&bytes.Buffer{}))
}

func TestIngest(t *testing.T) {
	store := NewMemoryStore()
	cats := &mockCategories{}
	enricher := categorising()
	ex := byFilename(map[string][]domain.RawTransaction{
		"july.pdf":   {rawTx(3, "WOOLWORTHS", "-45.20"), rawTx(5, "COLES", "-12.00")},
		"august.csv": {rawTx(9, "WOOLWORTHS", "-30.00")},
	})
	o := newTestOrchestrator(ex, enricher, cats, store)

	res, err := o.Ingest(context.Background(), "analysis-1", []domain.Document{
		{Filename: "july.pdf"},
		{Filename: "broken.pdf"},
		{Filename: "august.csv"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.TransactionCount)
	assert.Equal(t, int64(3), res.Inserted)
	assert.Len(t, res.Files, 3)
	assert.Equal(t, domain.MethodFailed, res.Files[1].Method)
	assert.Equal(t, 1, enricher.calls, "enrichment runs once per upload")
	assert.Equal(t, []string{"Groceries"}, cats.names)

	stmts := store.Statements()
	require.Len(t, stmts, 1)
	assert.Equal(t, "july.pdf", stmts[0].Filename, "statement carries the first file's metadata")
	assert.Equal(t, 3, stmts[0].FileCount)
	assert.Equal(t, res.StatementID, stmts[0].ID)

	stored, err := store.ListTransactions(context.Background(), "analysis-1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestIngest_EnsuresDistinctCategories(t *testing.T) {
	byDesc := map[string]string{"NETFLIX": "Subscriptions", "COLES": "Groceries", "WOOLWORTHS": "Groceries"}
	enricher := &mockEnricher{EnrichFunc: func(ctx context.Context, txs []domain.RawTransaction) ([]domain.EnrichedTransaction, error) {
		out := domain.PassThrough(txs)
		for i := range out {
			out[i].Category = byDesc[out[i].Description]
		}
		return out, nil
	}}
	ex := byFilename(map[string][]domain.RawTransaction{
		"july.pdf": {
			rawTx(1, "NETFLIX", "-15.99"),
			rawTx(2, "COLES", "-20.00"),
			rawTx(3, "ATM WITHDRAWAL", "-50.00"),
			rawTx(4, "WOOLWORTHS", "-31.40"),
			rawTx(5, "NETFLIX", "-15.99"),
		},
	})
	cats := &mockCategories{}
	o := newTestOrchestrator(ex, enricher, cats, NewMemoryStore())

	_, err := o.Ingest(context.Background(), "analysis-1", []domain.Document{{Filename: "july.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Subscriptions", "Groceries"}, cats.names)
}

func TestIngest_ReuploadSkipsDuplicates(t *testing.T) {
	store := NewMemoryStore()
	ex := byFilename(map[string][]domain.RawTransaction{
		"july.pdf": {rawTx(3, "FLAT WHITE", "-5.00"), rawTx(3, "FLAT WHITE", "-5.00")},
	})
	o := newTestOrchestrator(ex, categorising(), nil, store)
	docs := []domain.Document{{Filename: "july.pdf"}}

	first, err := o.Ingest(context.Background(), "a", docs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Inserted, "identical rows in one upload are both kept")

	second, err := o.Ingest(context.Background(), "a", docs)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Inserted)
}

func TestIngest_Errors(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		o := newTestOrchestrator(byFilename(nil), categorising(), nil, NewMemoryStore())
		_, err := o.Ingest(context.Background(), "a", nil)
		assert.ErrorIs(t, err, ErrNoFiles)
	})

	t.Run("nothing extracted", func(t *testing.T) {
		enricher := categorising()
		o := newTestOrchestrator(byFilename(nil), enricher, nil, NewMemoryStore())
		res, err := o.Ingest(context.Background(), "a", []domain.Document{{Filename: "scan.pdf"}})
		assert.ErrorIs(t, err, ErrNoTransactions)
		require.NotNil(t, res)
		assert.Len(t, res.Files, 1)
		assert.Equal(t, 0, enricher.calls)
	})

	t.Run("persistence failure", func(t *testing.T) {
		store := &failingStore{MemoryStore: NewMemoryStore(), insertErr: errors.New("bigquery down")}
		ex := byFilename(map[string][]domain.RawTransaction{"a.csv": {rawTx(1, "X", "-1.00")}})
		o := newTestOrchestrator(ex, categorising(), nil, store)
		_, err := o.Ingest(context.Background(), "a", []domain.Document{{Filename: "a.csv"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bigquery down")
	})
}

func TestIngestNew(t *testing.T) {
	tests := []struct {
		name         string
		files        map[string][]domain.RawTransaction
		wantErr      error
		wantAnalyses int
		wantArchived int
	}{
		{
			name:         "transactions extracted",
			files:        map[string][]domain.RawTransaction{"july.pdf": {rawTx(3, "COLES", "-12.00")}},
			wantAnalyses: 1,
			wantArchived: 1,
		},
		{
			name:    "nothing extracted",
			wantErr: ErrNoTransactions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			archived := 0
			archiver := &mockArchiver{ArchiveFunc: func(ctx context.Context, analysisID string, doc domain.Document) (string, error) {
				archived++
				return "gs://uploads/" + analysisID + "/" + doc.Filename, nil
			}}
			o := newTestOrchestrator(byFilename(tt.files), categorising(), nil, store).WithArchiver(archiver)

			res, err := o.IngestNew(context.Background(), "Smith household", []domain.Document{{Filename: "july.pdf"}})
			assert.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, res)
			assert.Equal(t, tt.wantArchived, archived)

			analyses := store.Analyses()
			require.Len(t, analyses, tt.wantAnalyses)
			if tt.wantAnalyses == 0 {
				assert.Empty(t, res.AnalysisID)
				assert.Empty(t, store.Statements())
				return
			}
			assert.Equal(t, "Smith household", analyses[0].Name)
			assert.Equal(t, analyses[0].ID, res.AnalysisID)
			assert.Equal(t, res.AnalysisID, store.Statements()[0].AnalysisID)
		})
	}
}

func TestIngest_ArchivesSupportedFiles(t *testing.T) {
	var archived []string
	archiver := &mockArchiver{ArchiveFunc: func(ctx context.Context, analysisID string, doc domain.Document) (string, error) {
		archived = append(archived, doc.Filename)
		if doc.Filename == "b.csv" {
			return "", errors.New("bucket missing")
		}
		return "gs://uploads/" + analysisID + "/" + doc.Filename, nil
	}}
	store := NewMemoryStore()
	ex := byFilename(map[string][]domain.RawTransaction{
		"a.pdf": {rawTx(1, "X", "-1.00")},
		"b.csv": {rawTx(2, "Y", "-2.00")},
	})
	o := newTestOrchestrator(ex, categorising(), nil, store).WithArchiver(archiver)

	_, err := o.Ingest(context.Background(), "an", []domain.Document{{Filename: "a.pdf"}, {Filename: "notes.txt"}, {Filename: "b.csv"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.csv"}, archived)
	assert.Equal(t, "gs://uploads/an/a.pdf", store.Statements()[0].ArchiveURI)
}

func TestReenhance(t *testing.T) {
	store := NewMemoryStore()
	stmtTxs := Identify("a", "s1", domain.PassThrough([]domain.RawTransaction{
		rawTx(1, "NETFLIX", "-15.99"),
		rawTx(2, "MYSTERY", "-3.00"),
	}))
	_, err := store.InsertTransactions(context.Background(), stmtTxs)
	require.NoError(t, err)

	enricher := &mockEnricher{EnrichFunc: func(ctx context.Context, txs []domain.RawTransaction) ([]domain.EnrichedTransaction, error) {
		out := domain.PassThrough(txs)
		out[0].Category = "Subscriptions"
		out[0].Enriched = true
		return out, nil
	}}
	cats := &mockCategories{}
	o := newTestOrchestrator(nil, enricher, cats, store)

	enhanced, total, err := o.Reenhance(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, enhanced)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"Subscriptions"}, cats.names)

	stored, err := store.ListTransactions(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "Subscriptions", stored[0].Category)
	assert.Equal(t, "s1", stored[0].StatementID)
	assert.False(t, stored[1].Enriched)
}

func TestReenhance_EmptyAnalysis(t *testing.T) {
	o := newTestOrchestrator(nil, categorising(), nil, NewMemoryStore())
	enhanced, total, err := o.Reenhance(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, enhanced)
	assert.Zero(t, total)
}

func TestIdentify(t *testing.T) {
	txs := domain.PassThrough([]domain.RawTransaction{rawTx(1, "A", "-1.00"), rawTx(1, "A", "-1.00"), rawTx(1, "A", "-1")})
	got := Identify("an", "st", txs)

	require.Len(t, got, 3)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, Identify("an", "other-statement", txs)[0].ID, got[0].ID, "IDs do not depend on the statement")
	assert.Len(t, got[0].ID, 32)
	assert.NotEqual(t, Identify("other", "st", txs)[0].ID, got[0].ID)
}
