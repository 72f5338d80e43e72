package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/ingest"
)

// CreateAnalysis inserts a row into analyses.
func (r *Repository) CreateAnalysis(ctx context.Context, a *ingest.Analysis) error {
	row := AnalysisRow{AnalysisID: a.ID, Name: a.Name, CreatedTS: a.CreatedAt}

	_, err := r.runDML(ctx, "CreateAnalysis", fmt.Sprintf(`
		INSERT INTO %s (analysis_id, name, created_ts)
		VALUES (@analysis_id, @name, @created_ts)
	`, r.table(analysesTable)), []bigquery.QueryParameter{
		{Name: "analysis_id", Value: row.AnalysisID},
		{Name: "name", Value: row.Name},
		{Name: "created_ts", Value: row.CreatedTS},
	})
	return err
}

// InsertStatement inserts the statement record of one upload. DML INSERT
// keeps the row out of the streaming buffer so it can be updated later.
func (r *Repository) InsertStatement(ctx context.Context, s *ingest.Statement) error {
	row := statementToRow(s)

	_, err := r.runDML(ctx, "InsertStatement", fmt.Sprintf(`
		INSERT INTO %s (
			statement_id, analysis_id, filename, container,
			bank_name, statement_type, extraction_method,
			fingerprint, learned_format_id, archive_uri,
			file_count, transaction_count, uploaded_ts
		)
		VALUES (
			@statement_id, @analysis_id, @filename, @container,
			@bank_name, @statement_type, @extraction_method,
			@fingerprint, @learned_format_id, @archive_uri,
			@file_count, @transaction_count, @uploaded_ts
		)
	`, r.table(statementsTable)), []bigquery.QueryParameter{
		{Name: "statement_id", Value: row.StatementID},
		{Name: "analysis_id", Value: row.AnalysisID},
		{Name: "filename", Value: row.Filename},
		{Name: "container", Value: row.Container},
		{Name: "bank_name", Value: row.BankName},
		{Name: "statement_type", Value: row.StatementType},
		{Name: "extraction_method", Value: row.Method},
		{Name: "fingerprint", Value: row.Fingerprint},
		{Name: "learned_format_id", Value: row.LearnedFormatID},
		{Name: "archive_uri", Value: row.ArchiveURI},
		{Name: "file_count", Value: row.FileCount},
		{Name: "transaction_count", Value: row.TransactionCount},
		{Name: "uploaded_ts", Value: row.UploadedTS},
	})
	return err
}
