package extraction

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/procedure"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// csvTable is a parsed CSV export: one header plus data rows.
type csvTable struct {
	header []string
	rows   [][]string
}

func readCSV(data []byte) (*csvTable, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("readCSV: %w", err)
		}
		if blankRecord(rec) {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.New("readCSV: empty file")
	}
	return &csvTable{header: records[0], rows: records[1:]}, nil
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func (t *csvTable) render(rows [][]string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(t.header)
	_ = w.WriteAll(rows)
	return buf.String()
}

// extractCSV converts rows batch by batch through the model. Batches are
// paced by the engine's limiter; a batch whose call fails or whose answer
// is malformed is parsed with the column heuristic instead.
func (e *Engine) extractCSV(ctx context.Context, doc domain.Document, meta *domain.ExtractionMetadata) ([]domain.RawTransaction, error) {
	table, err := readCSV(doc.Data)
	if err != nil {
		return nil, err
	}
	cols := detectColumns(table.header)

	if e.completer == nil {
		meta.Method = domain.MethodCSVHeuristic
		return cols.parse(table.rows, e.log), nil
	}

	var (
		out            []domain.RawTransaction
		heuristicCount int
		batches        int
	)
	for start := 0; start < len(table.rows); start += e.cfg.CSVBatchSize {
		end := start + e.cfg.CSVBatchSize
		if end > len(table.rows) {
			end = len(table.rows)
		}
		batch := table.rows[start:end]
		batches++

		if err := e.csvPacer.Wait(ctx); err != nil {
			return out, fmt.Errorf("extractCSV: pacing: %w", err)
		}

		txs, err := e.csvBatch(ctx, table, batch)
		if err != nil {
			e.log.Warn().
				Err(err).
				Str("file", doc.Filename).
				Int("batch_start", start).
				Int("batch_rows", len(batch)).
				Msg("CSV batch failed, using column heuristic")
			txs = cols.parse(batch, e.log)
			heuristicCount++
		}
		out = append(out, txs...)
	}

	meta.Method = domain.MethodCSVAssisted
	if batches > 0 && heuristicCount == batches {
		meta.Method = domain.MethodCSVHeuristic
	}
	return out, nil
}

func (e *Engine) csvBatch(ctx context.Context, table *csvTable, rows [][]string) ([]domain.RawTransaction, error) {
	raw, err := e.completer.Complete(ctx, completion.Request{Prompt: csvPrompt(table.render(rows))})
	if err != nil {
		return nil, err
	}
	return decodeTransactions(raw, nil, e.log)
}

// csvColumns holds the header positions found by substring matching; -1 means absent.
// debit and credit are either both set or both absent.
type csvColumns struct {
	date, description, amount, debit, credit int
}

func detectColumns(header []string) csvColumns {
	c := csvColumns{date: -1, description: -1, amount: -1, debit: -1, credit: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch {
		case c.date == -1 && strings.Contains(name, "date"):
			c.date = i
		case c.description == -1 && (strings.Contains(name, "description") || strings.Contains(name, "narrative")):
			c.description = i
		case c.debit == -1 && strings.Contains(name, "debit"):
			c.debit = i
		case c.credit == -1 && strings.Contains(name, "credit"):
			c.credit = i
		case c.amount == -1 && strings.Contains(name, "amount"):
			c.amount = i
		}
	}
	// Debit and credit only split the sign when both exist. A lone column
	// such as "Debit/Credit" carries signed values.
	if (c.debit == -1) != (c.credit == -1) {
		lone := c.debit
		if lone == -1 {
			lone = c.credit
		}
		if c.amount == -1 {
			c.amount = lone
		}
		c.debit, c.credit = -1, -1
	}
	return c
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parse is the deterministic fallback. Rows it cannot read are skipped and logged.
func (c csvColumns) parse(rows [][]string, log zerolog.Logger) []domain.RawTransaction {
	out := make([]domain.RawTransaction, 0, len(rows))
	for i, row := range rows {
		date, err := parseDate(field(row, c.date), 0)
		if err != nil {
			log.Debug().Err(err).Int("row", i).Msg("Skipping CSV row without a readable date")
			continue
		}
		desc := field(row, c.description)
		if desc == "" {
			log.Debug().Int("row", i).Msg("Skipping CSV row without a description")
			continue
		}
		amount, err := c.rowAmount(row)
		if err != nil {
			log.Debug().Err(err).Int("row", i).Msg("Skipping CSV row without a readable amount")
			continue
		}
		out = append(out, domain.RawTransaction{
			Date:        date,
			Description: desc,
			Amount:      amount,
			Merchant:    domain.MerchantName(desc),
		})
	}
	return out
}

// rowAmount resolves the signed amount: single amount column as-is,
// debit column negative, credit column positive.
func (c csvColumns) rowAmount(row []string) (decimal.Decimal, error) {
	if v := field(row, c.amount); v != "" {
		amt, _, err := procedure.ParseAmount(v)
		return amt, err
	}
	if v := field(row, c.debit); v != "" {
		amt, _, err := procedure.ParseAmount(v)
		if err != nil {
			return decimal.Zero, err
		}
		if !amt.IsZero() {
			return amt.Abs().Neg(), nil
		}
	}
	if v := field(row, c.credit); v != "" {
		amt, _, err := procedure.ParseAmount(v)
		if err != nil {
			return decimal.Zero, err
		}
		return amt.Abs(), nil
	}
	return decimal.Zero, errors.New("no amount column value")
}
