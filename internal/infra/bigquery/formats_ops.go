package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"google.golang.org/api/iterator"
)

const formatColumns = `
	format_id,
	fingerprint,
	bank_name,
	statement_type,
	procedure,
	IFNULL(description, '') AS description,
	IFNULL(sample_first_page, '') AS sample_first_page,
	IFNULL(sample_transactions, '') AS sample_transactions,
	learned_ts,
	last_used_ts,
	use_count`

// FindByFingerprint returns the learned format for a fingerprint, or nil
// if none is stored. When concurrent inserts left more than one row, the
// earliest learned_ts wins, ties broken by format_id.
func (r *Repository) FindByFingerprint(ctx context.Context, fingerprint string) (*formats.LearnedFormat, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE fingerprint = @fingerprint
		ORDER BY learned_ts, format_id
		LIMIT 1
	`, formatColumns, r.table(formatsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "fingerprint", Value: fingerprint},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindByFingerprint: query read: %w", err)
	}

	var row LearnedFormatRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindByFingerprint: iter next: %w", err)
	}
	return rowToFormat(&row)
}

// InsertFormat stores a learned format unless one already exists for its
// fingerprint, in which case formats.ErrFormatExists is returned.
//
// The MERGE does not serialise concurrent statements, so two writers can
// both insert. Each then reads back the winning row; a writer that lost
// deletes its own row and also returns formats.ErrFormatExists.
func (r *Repository) InsertFormat(ctx context.Context, f *formats.LearnedFormat) error {
	row, err := formatToRow(f)
	if err != nil {
		return fmt.Errorf("InsertFormat: %w", err)
	}

	n, err := r.runDML(ctx, "InsertFormat", fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @fingerprint AS fingerprint) S
		ON T.fingerprint = S.fingerprint
		WHEN NOT MATCHED THEN
		  INSERT (
			format_id, fingerprint, bank_name, statement_type,
			procedure, description, sample_first_page, sample_transactions,
			learned_ts, last_used_ts, use_count
		  )
		  VALUES (
			@format_id, @fingerprint, @bank_name, @statement_type,
			@procedure, @description, @sample_first_page, @sample_transactions,
			@learned_ts, @last_used_ts, @use_count
		  )
	`, r.table(formatsTable)), []bigquery.QueryParameter{
		{Name: "format_id", Value: row.FormatID},
		{Name: "fingerprint", Value: row.Fingerprint},
		{Name: "bank_name", Value: row.BankName},
		{Name: "statement_type", Value: row.StatementType},
		{Name: "procedure", Value: row.Procedure},
		{Name: "description", Value: row.Description},
		{Name: "sample_first_page", Value: row.SampleFirstPage},
		{Name: "sample_transactions", Value: row.SampleTransactions},
		{Name: "learned_ts", Value: row.LearnedTS},
		{Name: "last_used_ts", Value: row.LastUsedTS},
		{Name: "use_count", Value: row.UseCount},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return formats.ErrFormatExists
	}

	winner, err := r.FindByFingerprint(ctx, f.Fingerprint)
	if err != nil {
		return fmt.Errorf("InsertFormat: confirm: %w", err)
	}
	if !lostInsert(f.ID, winner) {
		return nil
	}
	if _, err := r.runDML(ctx, "InsertFormat", fmt.Sprintf(`
		DELETE FROM %s
		WHERE format_id = @format_id
	`, r.table(formatsTable)), []bigquery.QueryParameter{
		{Name: "format_id", Value: row.FormatID},
	}); err != nil {
		return fmt.Errorf("InsertFormat: remove duplicate: %w", err)
	}
	return formats.ErrFormatExists
}

// lostInsert reports whether a concurrent writer's row for the same
// fingerprint takes precedence over the row with id.
func lostInsert(id string, winner *formats.LearnedFormat) bool {
	return winner != nil && winner.ID != id
}

// TouchFormat increments use_count and sets last_used_ts.
func (r *Repository) TouchFormat(ctx context.Context, id string, usedAt time.Time) error {
	n, err := r.runDML(ctx, "TouchFormat", fmt.Sprintf(`
		UPDATE %s
		SET use_count = use_count + 1,
		    last_used_ts = @used_ts
		WHERE format_id = @format_id
	`, r.table(formatsTable)), []bigquery.QueryParameter{
		{Name: "format_id", Value: id},
		{Name: "used_ts", Value: usedAt},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("TouchFormat: format %s not found", id)
	}
	return nil
}

// ListFormats returns every learned format, newest first.
func (r *Repository) ListFormats(ctx context.Context) ([]*formats.LearnedFormat, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		ORDER BY learned_ts DESC
	`, formatColumns, r.table(formatsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListFormats: query read: %w", err)
	}

	var out []*formats.LearnedFormat
	for {
		var row LearnedFormatRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListFormats: iter next: %w", err)
		}
		f, err := rowToFormat(&row)
		if err != nil {
			return nil, fmt.Errorf("ListFormats: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}
