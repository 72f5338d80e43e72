package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/statement-pipeline/internal/detector"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/fingerprint"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")

	out, _, err := runCommand(t, "init-config", path, "--project", "acme-finance")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "project_id: acme-finance")

	_, _, err = runCommand(t, "init-config", path)
	assert.Error(t, err)

	_, _, err = runCommand(t, "init-config", path, "--force")
	assert.NoError(t, err)
}

func TestIngest_DryRunCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "july.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Date,Description,Debit,Credit\n26/07/2024,Woolworths,50.00,\n27/07/2024,Salary,,3000.00\n"), 0o644))

	out, _, err := runCommand(t,
		"--config", filepath.Join(dir, "none.yaml"),
		"ingest", csvPath, "--dry-run", "--no-model", "--json", "--name", "test")
	require.NoError(t, err)

	var res struct {
		AnalysisID       string `json:"analysisId"`
		TransactionCount int    `json:"transactionCount"`
		Inserted         int    `json:"inserted"`
		Files            []struct {
			Method string `json:"method"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.AnalysisID)
	assert.Equal(t, 2, res.TransactionCount)
	assert.Equal(t, 2, res.Inserted)
	require.Len(t, res.Files, 1)
	assert.Equal(t, string(domain.MethodCSVHeuristic), res.Files[0].Method)
}

func TestIngest_TableOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("Date,Description,Amount\n01/07/2024,NETFLIX.COM,-15.99\n"), 0o644))

	out, _, err := runCommand(t,
		"--config", filepath.Join(dir, "none.yaml"),
		"ingest", dir, "--dry-run", "--no-model")
	require.NoError(t, err)
	assert.Contains(t, out, "a.csv")
	assert.Contains(t, out, "csv_heuristic")
	assert.Contains(t, out, "1 transactions (1 newly stored)")
}

func TestIngest_RequiresInput(t *testing.T) {
	_, _, err := runCommand(t, "ingest")
	assert.Error(t, err)
}

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.pdf"), []byte("a"), 0o644))

	var fetched []string
	fetch := func(ctx context.Context, uri string) ([]byte, error) {
		fetched = append(fetched, uri)
		return []byte("remote"), nil
	}

	docs, err := loadDocuments(context.Background(), []string{dir, "gs://bucket/2024/westpac.pdf"}, fetch)
	require.NoError(t, err)

	var names []string
	for _, d := range docs {
		names = append(names, d.Filename)
	}
	assert.Equal(t, []string{"b.csv", "a.pdf", "westpac.pdf"}, names)
	assert.Equal(t, []string{"gs://bucket/2024/westpac.pdf"}, fetched)
	assert.Equal(t, "remote", string(docs[2].Data))

	_, err = loadDocuments(context.Background(), []string{filepath.Join(dir, "missing.csv")}, fetch)
	assert.Error(t, err)

	_, err = loadDocuments(context.Background(), []string{"gs://bucket/x.pdf"}, func(ctx context.Context, uri string) ([]byte, error) {
		return nil, errors.New("denied")
	})
	assert.Error(t, err)
}

type fakePDF struct {
	text string
	err  error
}

func (f *fakePDF) Extract(data []byte) (string, error) { return f.text, f.err }

type fakeLookup struct {
	formats map[string]*formats.LearnedFormat
}

func (f *fakeLookup) Lookup(ctx context.Context, fp string) (*formats.LearnedFormat, error) {
	return f.formats[fp], nil
}

func TestDescribe(t *testing.T) {
	text := "Westpac Choice\nStatement period 01/07/2024 to 31/07/2024\n"
	pdf := &fakePDF{text: text}
	d := detector.New(pdf, zerolog.Nop())
	fp := fingerprint.Compute(text)

	out := &bytes.Buffer{}
	lookup := &fakeLookup{formats: map[string]*formats.LearnedFormat{
		fp: {ID: "fmt-9", BankName: "Westpac", UseCount: 3},
	}}
	require.NoError(t, describe(context.Background(), out, d, pdf, lookup, domain.Document{Filename: "s.pdf"}))
	assert.Contains(t, out.String(), "Bank:           Westpac")
	assert.Contains(t, out.String(), "Fingerprint:    "+fp)
	assert.Contains(t, out.String(), "Learned format: fmt-9")
	assert.Contains(t, out.String(), "Layout:         westpac choice statement period <date> to <date>")

	out.Reset()
	require.NoError(t, describe(context.Background(), out, d, pdf, &fakeLookup{}, domain.Document{Filename: "s.pdf"}))
	assert.Contains(t, out.String(), "Learned format: none")

	out.Reset()
	require.NoError(t, describe(context.Background(), out, d, pdf, nil, domain.Document{Filename: "s.csv"}))
	assert.Contains(t, out.String(), "Container:      csv")
	assert.NotContains(t, out.String(), "Fingerprint")
}

func TestPrintFormats(t *testing.T) {
	repo := formats.NewMemoryRepository()
	store := formats.NewStore(repo, nil, zerolog.Nop())
	require.NoError(t, repo.InsertFormat(context.Background(), &formats.LearnedFormat{
		ID: "fmt-1", Fingerprint: "fp", BankName: "ING", StatementType: domain.StatementTransaction,
	}))

	out := &bytes.Buffer{}
	require.NoError(t, printFormats(context.Background(), out, store, false))
	assert.Contains(t, out.String(), "fmt-1")
	assert.Contains(t, out.String(), "ING")

	out.Reset()
	require.NoError(t, printFormats(context.Background(), out, store, true))
	assert.Contains(t, out.String(), `"bankName": "ING"`)
}
