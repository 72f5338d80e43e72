package extraction

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/dvloznov/statement-pipeline/internal/pdftext"
	"github.com/dvloznov/statement-pipeline/internal/procedure"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCompleter struct {
	mu           sync.Mutex
	calls        int
	requests     []completion.Request
	CompleteFunc func(ctx context.Context, req completion.Request) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req completion.Request) (string, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

func failingCompleter(t *testing.T) *mockCompleter {
	return &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		t.Errorf("unexpected model call")
		return "", errors.New("unexpected")
	}}
}

type mockPDF struct {
	ExtractFunc func(data []byte) (string, error)
}

func (m *mockPDF) Extract(data []byte) (string, error) {
	return m.ExtractFunc(data)
}

func textPDF(text string) *mockPDF {
	return &mockPDF{ExtractFunc: func(data []byte) (string, error) { return text, nil }}
}

type mockFormatStore struct {
	LookupFunc      func(ctx context.Context, fingerprint string) (*formats.LearnedFormat, error)
	RecordUsageFunc func(ctx context.Context, id string) error
	LearnFunc       func(ctx context.Context, req formats.LearnRequest) (*formats.LearnedFormat, error)
}

func (m *mockFormatStore) Lookup(ctx context.Context, fingerprint string) (*formats.LearnedFormat, error) {
	return m.LookupFunc(ctx, fingerprint)
}

func (m *mockFormatStore) RecordUsage(ctx context.Context, id string) error {
	return m.RecordUsageFunc(ctx, id)
}

func (m *mockFormatStore) Learn(ctx context.Context, req formats.LearnRequest) (*formats.LearnedFormat, error) {
	return m.LearnFunc(ctx, req)
}

func noFormat(ctx context.Context, fingerprint string) (*formats.LearnedFormat, error) {
	return nil, nil
}

func newTestEngine(cfg Config, pdf TextExtractor, store FormatStore, c completion.Completer) *Engine {
	return New(cfg, pdf, store, c, logger.NewWithWriter(&bytes.Buffer{}))
}

func pdfDoc() domain.Document {
	return domain.Document{Filename: "statement.pdf", Data: []byte("%PDF-1.4")}
}

func westpacProcedure() *procedure.Procedure {
	return &procedure.Procedure{
		LinePattern: `^(?P<date>\d{2}/\d{2}/\d{4}) (?P<description>.+) (?P<amount>-?[\d,]+\.\d{2})$`,
		DateFormats: []string{"DD/MM/YYYY"},
		AmountSign:  procedure.SignAsIs,
	}
}

func TestExtract_LearnedFormatMakesNoModelCalls(t *testing.T) {
	var touched []string
	store := &mockFormatStore{
		LookupFunc: func(ctx context.Context, fp string) (*formats.LearnedFormat, error) {
			return &formats.LearnedFormat{ID: "fmt-westpac", Fingerprint: fp, Procedure: westpacProcedure()}, nil
		},
		RecordUsageFunc: func(ctx context.Context, id string) error {
			touched = append(touched, id)
			return nil
		},
	}
	completer := failingCompleter(t)
	e := newTestEngine(DefaultConfig(), textPDF(westpacStatement(3)), store, completer)

	res, err := e.Extract(context.Background(), pdfDoc())
	require.NoError(t, err)

	assert.Equal(t, 0, completer.calls)
	assert.Len(t, res.Transactions, 3)
	assert.Equal(t, domain.MethodLearned, res.Metadata.Method)
	assert.Equal(t, "fmt-westpac", res.Metadata.LearnedFormatID)
	assert.Equal(t, "Westpac", res.Metadata.BankName)
	assert.NotEmpty(t, res.Metadata.Fingerprint)
	assert.Equal(t, 3, res.Metadata.TransactionCount)
	assert.Equal(t, []string{"fmt-westpac"}, touched)
}

func TestExtract_LearnedFormatFailsFallsBackToPattern(t *testing.T) {
	store := &mockFormatStore{
		LookupFunc: func(ctx context.Context, fp string) (*formats.LearnedFormat, error) {
			return &formats.LearnedFormat{ID: "stale", Procedure: &procedure.Procedure{
				LinePattern: `^(?P<date>\d{4}-\d{2}-\d{2}) (?P<description>.+) (?P<amount>[\d.]+)$`,
				DateFormats: []string{"YYYY-MM-DD"},
				AmountSign:  procedure.SignAsIs,
			}}, nil
		},
		RecordUsageFunc: func(ctx context.Context, id string) error {
			t.Errorf("usage recorded for a format that did not extract")
			return nil
		},
	}
	e := newTestEngine(DefaultConfig(), textPDF(westpacStatement(6)), store, failingCompleter(t))

	res, err := e.Extract(context.Background(), pdfDoc())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodPattern, res.Metadata.Method)
	assert.Len(t, res.Transactions, 6)
	assert.Empty(t, res.Metadata.LearnedFormatID)
}

const shortWestpac = `Westpac Choice
Statement period 01/07/2024 to 31/07/2024
03/07/2024 WOOLWORTHS 1234 SYDNEY -45.20
05/07/2024 SALARY ACME 3000.00`

const assistedAnswer = `[
  {"date": "2024-07-03", "description": "WOOLWORTHS 1234 SYDNEY", "amount": -45.20, "merchant": "Woolworths"},
  {"date": "2024-07-05", "description": "SALARY ACME", "amount": 3000, "merchant": ""},
  {"date": "2019-01-01", "description": "OLD ROW", "amount": -1}
]`

func TestExtract_AssistedThenLearns(t *testing.T) {
	var learnReq formats.LearnRequest
	store := &mockFormatStore{
		LookupFunc: noFormat,
		LearnFunc: func(ctx context.Context, req formats.LearnRequest) (*formats.LearnedFormat, error) {
			learnReq = req
			return &formats.LearnedFormat{ID: "fmt-new"}, nil
		},
	}
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		assert.Contains(t, req.Prompt, "Westpac")
		assert.Contains(t, req.Prompt, "2024, 2025")
		assert.Contains(t, req.Prompt, "WOOLWORTHS 1234 SYDNEY")
		return assistedAnswer, nil
	}}
	e := newTestEngine(DefaultConfig(), textPDF(shortWestpac), store, completer)

	res, err := e.Extract(context.Background(), pdfDoc())
	require.NoError(t, err)

	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, domain.MethodAssisted, res.Metadata.Method)
	require.Len(t, res.Transactions, 2, "out of range year is dropped")
	assert.Equal(t, "Woolworths", res.Transactions[0].Merchant)
	assert.Equal(t, "SALARY ACME", res.Transactions[1].Merchant)
	assert.True(t, decimal.NewFromInt(3000).Equal(res.Transactions[1].Amount))

	assert.Equal(t, "fmt-new", res.Metadata.LearnedFormatID)
	assert.Equal(t, "Westpac", learnReq.BankName)
	assert.Equal(t, res.Metadata.Fingerprint, learnReq.Fingerprint)
	assert.Equal(t, shortWestpac, learnReq.FullText)
	assert.Len(t, learnReq.Samples, 2)
}

func TestExtract_UnknownBankDoesNotLearn(t *testing.T) {
	store := &mockFormatStore{
		LookupFunc: noFormat,
		LearnFunc: func(ctx context.Context, req formats.LearnRequest) (*formats.LearnedFormat, error) {
			t.Errorf("learn called for unknown bank")
			return nil, errors.New("unexpected")
		},
	}
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		return assistedAnswer, nil
	}}
	text := strings.Replace(shortWestpac, "Westpac Choice", "Harbour Credit Union", 1)
	e := newTestEngine(DefaultConfig(), textPDF(text), store, completer)

	res, err := e.Extract(context.Background(), pdfDoc())
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownBank, res.Metadata.BankName)
	assert.Equal(t, domain.MethodAssisted, res.Metadata.Method)
	assert.Empty(t, res.Metadata.LearnedFormatID)
}

func TestExtract_LearnFailureKeepsResult(t *testing.T) {
	store := &mockFormatStore{
		LookupFunc: noFormat,
		LearnFunc: func(ctx context.Context, req formats.LearnRequest) (*formats.LearnedFormat, error) {
			return nil, errors.New("replay produced nothing")
		},
	}
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		return assistedAnswer, nil
	}}
	e := newTestEngine(DefaultConfig(), textPDF(shortWestpac), store, completer)

	res, err := e.Extract(context.Background(), pdfDoc())
	require.NoError(t, err)
	assert.Len(t, res.Transactions, 2)
	assert.Empty(t, res.Metadata.LearnedFormatID)
}

func TestExtract_AllStrategiesFail(t *testing.T) {
	store := &mockFormatStore{
		LookupFunc: func(ctx context.Context, fp string) (*formats.LearnedFormat, error) {
			return nil, errors.New("bigquery unavailable")
		},
	}
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		return "", context.DeadlineExceeded
	}}
	e := newTestEngine(DefaultConfig(), textPDF(shortWestpac), store, completer)

	res, err := e.Extract(context.Background(), pdfDoc())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllStrategiesFailed))
	assert.Empty(t, res.Transactions)
	assert.Equal(t, domain.MethodFailed, res.Metadata.Method)
	assert.NotEmpty(t, res.Metadata.Error)
}

func TestExtract_ScannedPDFUsesVision(t *testing.T) {
	pdf := &mockPDF{ExtractFunc: func(data []byte) (string, error) { return "", pdftext.ErrNoText }}
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		require.Len(t, req.Attachments, 1)
		assert.Equal(t, "application/pdf", req.Attachments[0].MIMEType)
		return `[{"date":"2024-07-26","description":"Woolworths","amount":-50}]`, nil
	}}
	e := newTestEngine(DefaultConfig(), pdf, nil, completer)

	res, err := e.Extract(context.Background(), pdfDoc())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodVision, res.Metadata.Method)
	assert.Len(t, res.Transactions, 1)
}

func TestExtract_Image(t *testing.T) {
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		require.Len(t, req.Attachments, 1)
		assert.Equal(t, "image/png", req.Attachments[0].MIMEType)
		return "```json\n[{\"date\":\"2023-12-30\",\"description\":\"UBER *TRIP\",\"amount\":-23.10}]\n```", nil
	}}
	e := newTestEngine(DefaultConfig(), nil, nil, completer)

	res, err := e.Extract(context.Background(), domain.Document{Filename: "Screenshot.PNG", Data: []byte{0x89, 'P', 'N', 'G'}})
	require.NoError(t, err)
	assert.Equal(t, domain.MethodVision, res.Metadata.Method)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, civil.Date{Year: 2023, Month: 12, Day: 30}, res.Transactions[0].Date, "no year filter for images")
}

func TestExtract_UnsupportedIsSkipped(t *testing.T) {
	e := newTestEngine(DefaultConfig(), nil, nil, failingCompleter(t))

	res, err := e.Extract(context.Background(), domain.Document{Filename: "notes.txt", Data: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, domain.MethodSkipped, res.Metadata.Method)
	assert.Equal(t, domain.ContainerUnsupported, res.Metadata.Container)
	assert.Empty(t, res.Transactions)
}

func TestExtract_QIF(t *testing.T) {
	qif := "!Type:Bank\nD26/07/2024\nT-50.00\nPWoolworths\n^\n"
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		assert.Contains(t, req.Prompt, "QIF")
		assert.Contains(t, req.Prompt, "PWoolworths")
		return `[{"date":"2024-07-26","description":"Woolworths","amount":-50,"merchant":"Woolworths"}]`, nil
	}}
	e := newTestEngine(DefaultConfig(), nil, nil, completer)

	res, err := e.Extract(context.Background(), domain.Document{Filename: "export.qif", Data: []byte(qif)})
	require.NoError(t, err)
	assert.Equal(t, domain.MethodQIFAssisted, res.Metadata.Method)
	assert.Len(t, res.Transactions, 1)
}
