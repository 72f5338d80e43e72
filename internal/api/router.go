// Package api assembles the HTTP surface of the statement pipeline.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/api/handlers"
	"github.com/dvloznov/statement-pipeline/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers the router dispatches to.
type Handlers struct {
	Uploads *handlers.UploadsHandler
	Catalog *handlers.CatalogHandler
	Jobs    *handlers.JobsHandler
}

// NewRouter builds the mux and wraps it in the middleware chain.
func NewRouter(h Handlers, allowedOrigins []string, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/uploads", methods(map[string]http.HandlerFunc{
		http.MethodPost: h.Uploads.Upload,
	}))
	mux.HandleFunc("/api/reenhance", methods(map[string]http.HandlerFunc{
		http.MethodPost: h.Uploads.Reenhance,
	}))
	mux.HandleFunc("/api/formats", methods(map[string]http.HandlerFunc{
		http.MethodGet: h.Catalog.ListFormats,
	}))
	mux.HandleFunc("/api/categories", methods(map[string]http.HandlerFunc{
		http.MethodGet: h.Catalog.ListCategories,
	}))
	mux.HandleFunc("/api/jobs", methods(map[string]http.HandlerFunc{
		http.MethodGet: h.Jobs.ListJobs,
	}))
	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" || strings.Contains(jobID, "/") {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.Jobs.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(allowedOrigins)(
					middleware.Auth(mux),
				),
			),
		),
	)
}

func methods(byMethod map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fn, ok := byMethod[r.Method]; ok {
			fn(w, r)
			return
		}
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
