package enrichment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Vocabulary is the closed set of categories the model may assign.
var Vocabulary = []string{
	"Groceries", "Utilities", "Entertainment", "Transport", "Healthcare",
	"Shopping", "Dining", "Bills", "Income", "Transfer", "Subscriptions",
	"Insurance", "Education", "Travel", "Pet Services", "Other",
}

// CategoryOther receives every name outside the vocabulary.
const CategoryOther = "Other"

// NormalizeCategory maps a model-provided name onto the vocabulary,
// case-insensitively. Unknown names become Other.
func NormalizeCategory(name string) string {
	n := strings.TrimSpace(name)
	for _, v := range Vocabulary {
		if strings.EqualFold(v, n) {
			return v
		}
	}
	return CategoryOther
}

// Category is a spending category row.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// CategoryStore persists categories.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, c Category) error
}

// Categories creates missing categories on demand.
type Categories struct {
	store CategoryStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewCategories creates a Categories service.
func NewCategories(store CategoryStore, log zerolog.Logger) *Categories {
	return &Categories{store: store, log: log, now: time.Now}
}

// List returns every stored category.
func (c *Categories) List(ctx context.Context) ([]Category, error) {
	cats, err := c.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return cats, nil
}

// Ensure creates the named categories that do not exist yet. Names are
// compared case-insensitively; new ones are stored in title case. Two
// concurrent runs may both create the same name.
func (c *Categories) Ensure(ctx context.Context, names []string) (int, error) {
	existing, err := c.store.ListCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("Ensure: list categories: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, cat := range existing {
		known[strings.ToLower(cat.Name)] = true
	}

	title := cases.Title(language.English)
	created := 0
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || known[key] {
			continue
		}
		cat := Category{
			ID:        uuid.New().String(),
			Name:      title.String(key),
			CreatedAt: c.now().UTC(),
		}
		if err := c.store.CreateCategory(ctx, cat); err != nil {
			return created, fmt.Errorf("Ensure: create %q: %w", cat.Name, err)
		}
		known[key] = true
		created++
		c.log.Info().Str("category", cat.Name).Msg("Created category")
	}
	return created, nil
}

// MemoryCategoryStore is a CategoryStore held in process memory, used for
// dry runs.
type MemoryCategoryStore struct {
	mu   sync.Mutex
	cats []Category
}

// ListCategories returns the stored categories ordered by name.
func (m *MemoryCategoryStore) ListCategories(ctx context.Context) ([]Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Category(nil), m.cats...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateCategory appends c.
func (m *MemoryCategoryStore) CreateCategory(ctx context.Context, c Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cats = append(m.cats, c)
	return nil
}
