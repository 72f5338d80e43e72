package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"google.golang.org/api/iterator"
)

// ListCategories returns all categories ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]enrichment.Category, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT category_id, name, created_ts
		FROM %s
		ORDER BY name
	`, r.table(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query read: %w", err)
	}

	var out []enrichment.Category
	for {
		var row CategoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListCategories: iter next: %w", err)
		}
		out = append(out, enrichment.Category{ID: row.CategoryID, Name: row.Name, CreatedAt: row.CreatedTS})
	}
	return out, nil
}

// CreateCategory inserts one category.
func (r *Repository) CreateCategory(ctx context.Context, c enrichment.Category) error {
	_, err := r.runDML(ctx, "CreateCategory", fmt.Sprintf(`
		INSERT INTO %s (category_id, name, created_ts)
		VALUES (@category_id, @name, @created_ts)
	`, r.table(categoriesTable)), []bigquery.QueryParameter{
		{Name: "category_id", Value: c.ID},
		{Name: "name", Value: c.Name},
		{Name: "created_ts", Value: c.CreatedAt},
	})
	return err
}
