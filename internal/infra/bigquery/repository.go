// Package bigquery persists analyses, statements, transactions, categories
// and learned formats in BigQuery.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	analysesTable     = "analyses"
	statementsTable   = "bank_statements"
	transactionsTable = "transactions"
	categoriesTable   = "categories"
	formatsTable      = "learned_formats"
)

// Repository is the BigQuery implementation of every store the pipeline
// needs. It holds one shared client for all operations.
type Repository struct {
	client  *bigquery.Client
	dataset string
}

// NewRepository creates a Repository with its own client.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, datasetID), nil
}

// NewRepositoryWithClient wraps an existing client.
func NewRepositoryWithClient(client *bigquery.Client, datasetID string) *Repository {
	return &Repository{client: client, dataset: datasetID}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// table returns the fully qualified, backquoted table name.
func (r *Repository) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", r.client.Project(), r.dataset, name)
}

// runDML runs a DML statement and returns the number of affected rows.
func (r *Repository) runDML(ctx context.Context, op, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := r.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}

	if status.Statistics == nil {
		return 0, nil
	}
	stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return 0, nil
	}
	return stats.NumDMLAffectedRows, nil
}
