package enrichment

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCategoryStore struct {
	categories         []Category
	ListCategoriesFunc func(ctx context.Context) ([]Category, error)
	CreateCategoryFunc func(ctx context.Context, c Category) error
}

func (m *mockCategoryStore) ListCategories(ctx context.Context) ([]Category, error) {
	if m.ListCategoriesFunc != nil {
		return m.ListCategoriesFunc(ctx)
	}
	return m.categories, nil
}

func (m *mockCategoryStore) CreateCategory(ctx context.Context, c Category) error {
	if m.CreateCategoryFunc != nil {
		return m.CreateCategoryFunc(ctx, c)
	}
	m.categories = append(m.categories, c)
	return nil
}

func TestEnsure(t *testing.T) {
	store := &mockCategoryStore{categories: []Category{{ID: "1", Name: "Groceries"}}}
	c := NewCategories(store, logger.NewWithWriter(&bytes.Buffer{}))

	created, err := c.Ensure(context.Background(), []string{"groceries", "pet services", "Dining", "DINING", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	var names []string
	for _, cat := range store.categories {
		names = append(names, cat.Name)
	}
	assert.Equal(t, []string{"Groceries", "Pet Services", "Dining"}, names)
	assert.NotEmpty(t, store.categories[1].ID)
}

func TestEnsure_Errors(t *testing.T) {
	listErr := &mockCategoryStore{ListCategoriesFunc: func(ctx context.Context) ([]Category, error) {
		return nil, errors.New("boom")
	}}
	_, err := NewCategories(listErr, logger.NewWithWriter(&bytes.Buffer{})).Ensure(context.Background(), []string{"Travel"})
	assert.Error(t, err)

	createErr := &mockCategoryStore{CreateCategoryFunc: func(ctx context.Context, c Category) error {
		return errors.New("quota")
	}}
	created, err := NewCategories(createErr, logger.NewWithWriter(&bytes.Buffer{})).Ensure(context.Background(), []string{"Travel"})
	assert.Error(t, err)
	assert.Equal(t, 0, created)
}

func TestMemoryCategoryStore(t *testing.T) {
	store := &MemoryCategoryStore{}
	c := NewCategories(store, logger.NewWithWriter(&bytes.Buffer{}))

	_, err := c.Ensure(context.Background(), []string{"travel", "dining"})
	require.NoError(t, err)
	created, err := c.Ensure(context.Background(), []string{"Travel"})
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	cats, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Dining", cats[0].Name)
	assert.Equal(t, "Travel", cats[1].Name)
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]string{
		"Groceries":     "Groceries",
		"  dining ":     "Dining",
		"PET SERVICES":  "Pet Services",
		"Motoring":      "Other",
		"":              "Other",
		"subscriptions": "Subscriptions",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeCategory(in), in)
	}
}

func TestMatch(t *testing.T) {
	cache := NewMemoryCache([]Entry{
		{Key: "Woolworths Metro", Category: "Groceries"},
		{Key: "Woolworths", Category: "Groceries", MerchantType: "Supermarket"},
		{Key: "Uber Eats", Category: "Dining"},
		{Key: "BP", Category: "Transport"},
	})

	tests := []struct {
		name     string
		merchant string
		wantKey  string
		wantOK   bool
	}{
		{"exact", "WOOLWORTHS", "woolworths", true},
		{"closest containment wins", "Woolworths Ltd", "woolworths", true},
		{"contained in cached key", "uber", "uber eats", true},
		{"too short for fuzzy", "BP Pty", "", false},
		{"no match", "Telstra", "", false},
		{"empty", "  ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := match(cache, tt.merchant)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, got.Key)
		})
	}
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "netflix", cleanName("Netflix Pty. Ltd."))
	assert.Equal(t, "acme", cleanName("ACME Corporation"))
	assert.Equal(t, "netflix.com", cleanName("NETFLIX.COM"))
	assert.Equal(t, "coles", cleanName("Coles, Inc"))
}
