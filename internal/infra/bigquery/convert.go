package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/dvloznov/statement-pipeline/internal/ingest"
	"github.com/dvloznov/statement-pipeline/internal/procedure"
	"github.com/shopspring/decimal"
)

// numericScale is the number of fractional digits of a BigQuery NUMERIC.
const numericScale = 9

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullFloat(f *float64) bigquery.NullFloat64 {
	if f == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n bigquery.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func statementToRow(s *ingest.Statement) *StatementRow {
	return &StatementRow{
		StatementID:      s.ID,
		AnalysisID:       s.AnalysisID,
		Filename:         s.Filename,
		Container:        string(s.Container),
		BankName:         s.BankName,
		StatementType:    string(s.StatementType),
		Method:           string(s.Method),
		Fingerprint:      nullString(s.Fingerprint),
		LearnedFormatID:  nullString(s.LearnedFormatID),
		ArchiveURI:       nullString(s.ArchiveURI),
		FileCount:        int64(s.FileCount),
		TransactionCount: int64(s.TransactionCount),
		UploadedTS:       s.UploadedAt,
	}
}

func transactionToRow(tx ingest.StoredTransaction, created time.Time) TransactionRow {
	return TransactionRow{
		TransactionID:       tx.ID,
		AnalysisID:          tx.AnalysisID,
		StatementID:         tx.StatementID,
		TransactionDate:     tx.Date,
		Description:         tx.Description,
		Amount:              tx.Amount.Rat(),
		Merchant:            tx.Merchant,
		BusinessName:        tx.BusinessName,
		MerchantType:        tx.MerchantType,
		Location:            tx.Location,
		MerchantDescription: tx.MerchantDescription,
		Category:            tx.Category,
		Latitude:            nullFloat(tx.Latitude),
		Longitude:           nullFloat(tx.Longitude),
		Enriched:            tx.Enriched,
		CreatedTS:           created,
	}
}

func rowToTransaction(r *TransactionRow) ingest.StoredTransaction {
	return ingest.StoredTransaction{
		ID:          r.TransactionID,
		AnalysisID:  r.AnalysisID,
		StatementID: r.StatementID,
		EnrichedTransaction: domain.EnrichedTransaction{
			RawTransaction: domain.RawTransaction{
				Date:        r.TransactionDate,
				Description: r.Description,
				Amount:      ratToDecimal(r.Amount),
				Merchant:    r.Merchant,
			},
			BusinessName:        r.BusinessName,
			MerchantType:        r.MerchantType,
			Location:            r.Location,
			MerchantDescription: r.MerchantDescription,
			Category:            r.Category,
			Latitude:            floatPtr(r.Latitude),
			Longitude:           floatPtr(r.Longitude),
			Enriched:            r.Enriched,
		},
	}
}

func merchantRowToEntry(r *merchantCacheRow) enrichment.Entry {
	return enrichment.Entry{
		Key:                 r.MerchantKey,
		BusinessName:        r.BusinessName,
		MerchantType:        r.MerchantType,
		MerchantDescription: r.MerchantDescription,
		Category:            r.Category,
		Location:            r.Location,
		Latitude:            floatPtr(r.Latitude),
		Longitude:           floatPtr(r.Longitude),
	}
}

func formatToRow(f *formats.LearnedFormat) (*LearnedFormatRow, error) {
	proc, err := f.Procedure.JSON()
	if err != nil {
		return nil, fmt.Errorf("formatToRow: %w", err)
	}
	samples, err := json.Marshal(f.SampleTransactions)
	if err != nil {
		return nil, fmt.Errorf("formatToRow: samples: %w", err)
	}

	row := &LearnedFormatRow{
		FormatID:           f.ID,
		Fingerprint:        f.Fingerprint,
		BankName:           f.BankName,
		StatementType:      string(f.StatementType),
		Procedure:          proc,
		Description:        f.Description,
		SampleFirstPage:    f.SampleFirstPage,
		SampleTransactions: string(samples),
		LearnedTS:          f.LearnedAt,
		UseCount:           f.UseCount,
	}
	if f.LastUsedAt != nil {
		row.LastUsedTS = bigquery.NullTimestamp{Timestamp: *f.LastUsedAt, Valid: true}
	}
	return row, nil
}

func rowToFormat(r *LearnedFormatRow) (*formats.LearnedFormat, error) {
	proc, err := procedure.Parse(r.Procedure)
	if err != nil {
		return nil, fmt.Errorf("rowToFormat: %s: %w", r.FormatID, err)
	}

	var samples []domain.RawTransaction
	if r.SampleTransactions != "" {
		if err := json.Unmarshal([]byte(r.SampleTransactions), &samples); err != nil {
			return nil, fmt.Errorf("rowToFormat: %s: samples: %w", r.FormatID, err)
		}
	}

	f := &formats.LearnedFormat{
		ID:                 r.FormatID,
		Fingerprint:        r.Fingerprint,
		BankName:           r.BankName,
		StatementType:      domain.StatementType(r.StatementType),
		Procedure:          proc,
		Description:        r.Description,
		SampleFirstPage:    r.SampleFirstPage,
		SampleTransactions: samples,
		LearnedAt:          r.LearnedTS,
		UseCount:           r.UseCount,
	}
	if r.LastUsedTS.Valid {
		t := r.LastUsedTS.Timestamp
		f.LastUsedAt = &t
	}
	return f, nil
}
