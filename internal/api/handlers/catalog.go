package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/statement-pipeline/internal/api/middleware"
	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/rs/zerolog"
)

// FormatLister is satisfied by *formats.Store.
type FormatLister interface {
	List(ctx context.Context) ([]*formats.LearnedFormat, error)
}

// CategoryLister is satisfied by *enrichment.Categories.
type CategoryLister interface {
	List(ctx context.Context) ([]enrichment.Category, error)
}

// CatalogHandler serves learned formats and categories.
type CatalogHandler struct {
	formats    FormatLister
	categories CategoryLister
	log        zerolog.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(formats FormatLister, categories CategoryLister, log zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{
		formats:    formats,
		categories: categories,
		log:        log,
	}
}

// formatSummary omits the sample first page, which can be large.
type formatSummary struct {
	*formats.LearnedFormat
	SampleFirstPage string `json:"sampleFirstPage,omitempty"`
}

// ListFormats handles GET /api/formats
func (h *CatalogHandler) ListFormats(w http.ResponseWriter, r *http.Request) {
	list, err := h.formats.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list learned formats")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list learned formats")
		return
	}

	out := make([]formatSummary, len(list))
	for i, f := range list {
		out[i] = formatSummary{LearnedFormat: f}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"formats": out,
		"count":   len(out),
	})
}

// ListCategories handles GET /api/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.categories.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list categories")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list categories")
		return
	}
	if categories == nil {
		categories = []enrichment.Category{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}
