package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"github.com/dvloznov/statement-pipeline/internal/ingest"
	"google.golang.org/api/iterator"
)

// maxRowsPerStatement keeps the UNNEST parameter well under the query size limit.
const maxRowsPerStatement = 500

// InsertTransactions MERGEs rows by transaction_id so rows already stored
// are skipped. Returns the number of rows actually inserted.
func (r *Repository) InsertTransactions(ctx context.Context, txs []ingest.StoredTransaction) (int64, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var inserted int64
	for start := 0; start < len(txs); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(txs) {
			end = len(txs)
		}
		rows := make([]TransactionRow, 0, end-start)
		for _, tx := range txs[start:end] {
			rows = append(rows, transactionToRow(tx, now))
		}

		n, err := r.runDML(ctx, "InsertTransactions", fmt.Sprintf(`
			MERGE %s T
			USING UNNEST(@rows) S
			ON T.transaction_id = S.transaction_id
			WHEN NOT MATCHED THEN
			  INSERT (
				transaction_id, analysis_id, statement_id,
				transaction_date, description, amount, merchant,
				business_name, merchant_type, location, merchant_description,
				category, latitude, longitude, enriched, created_ts
			  )
			  VALUES (
				S.transaction_id, S.analysis_id, S.statement_id,
				S.transaction_date, S.description, S.amount, S.merchant,
				S.business_name, S.merchant_type, S.location, S.merchant_description,
				S.category, S.latitude, S.longitude, S.enriched, S.created_ts
			  )
		`, r.table(transactionsTable)), []bigquery.QueryParameter{
			{Name: "rows", Value: rows},
		})
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

// ListTransactions returns the stored transactions of an analysis by date.
func (r *Repository) ListTransactions(ctx context.Context, analysisID string) ([]ingest.StoredTransaction, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			analysis_id,
			statement_id,
			transaction_date,
			description,
			amount,
			IFNULL(merchant, '') AS merchant,
			IFNULL(business_name, '') AS business_name,
			IFNULL(merchant_type, '') AS merchant_type,
			IFNULL(location, '') AS location,
			IFNULL(merchant_description, '') AS merchant_description,
			IFNULL(category, '') AS category,
			latitude,
			longitude,
			IFNULL(enriched, FALSE) AS enriched,
			created_ts
		FROM %s
		WHERE analysis_id = @analysis_id
		ORDER BY transaction_date, created_ts, transaction_id
	`, r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "analysis_id", Value: analysisID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query read: %w", err)
	}

	var out []ingest.StoredTransaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iter next: %w", err)
		}
		out = append(out, rowToTransaction(&row))
	}
	return out, nil
}

// UpdateEnrichment writes the enrichment columns of existing rows back.
func (r *Repository) UpdateEnrichment(ctx context.Context, txs []ingest.StoredTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for start := 0; start < len(txs); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(txs) {
			end = len(txs)
		}
		rows := make([]TransactionRow, 0, end-start)
		for _, tx := range txs[start:end] {
			rows = append(rows, transactionToRow(tx, now))
		}

		_, err := r.runDML(ctx, "UpdateEnrichment", fmt.Sprintf(`
			MERGE %s T
			USING UNNEST(@rows) S
			ON T.transaction_id = S.transaction_id
			WHEN MATCHED THEN
			  UPDATE SET
				business_name = S.business_name,
				merchant_type = S.merchant_type,
				location = S.location,
				merchant_description = S.merchant_description,
				category = S.category,
				latitude = S.latitude,
				longitude = S.longitude,
				enriched = S.enriched,
				updated_ts = @updated_ts
		`, r.table(transactionsTable)), []bigquery.QueryParameter{
			{Name: "rows", Value: rows},
			{Name: "updated_ts", Value: now},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadMerchantCache returns the latest enrichment stored for each merchant.
func (r *Repository) LoadMerchantCache(ctx context.Context) ([]enrichment.Entry, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			latest.merchant_key,
			latest.business_name,
			latest.merchant_type,
			latest.merchant_description,
			latest.category,
			latest.location,
			latest.latitude,
			latest.longitude
		FROM (
			SELECT ARRAY_AGG(STRUCT(
				LOWER(TRIM(merchant)) AS merchant_key,
				IFNULL(business_name, '') AS business_name,
				IFNULL(merchant_type, '') AS merchant_type,
				IFNULL(merchant_description, '') AS merchant_description,
				category,
				IFNULL(location, '') AS location,
				latitude,
				longitude
			) ORDER BY created_ts DESC LIMIT 1)[OFFSET(0)] AS latest
			FROM %s
			WHERE enriched = TRUE
			  AND merchant IS NOT NULL AND TRIM(merchant) != ''
			  AND category IS NOT NULL AND category != ''
			GROUP BY LOWER(TRIM(merchant))
		)
	`, r.table(transactionsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadMerchantCache: query read: %w", err)
	}

	var out []enrichment.Entry
	for {
		var row merchantCacheRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadMerchantCache: iter next: %w", err)
		}
		out = append(out, merchantRowToEntry(&row))
	}
	return out, nil
}
