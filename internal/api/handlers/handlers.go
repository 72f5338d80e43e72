package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/api/middleware"
	"github.com/dvloznov/statement-pipeline/internal/detector"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/ingest"
	"github.com/dvloznov/statement-pipeline/internal/jobs"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/rs/zerolog"
)

// previewSize is how many transactions an upload response carries.
const previewSize = 10

// DefaultMaxUploadBytes caps a multipart upload when none is configured.
const DefaultMaxUploadBytes = 32 << 20

// Ingester is the part of the orchestrator the HTTP layer drives.
// Satisfied by *ingest.Orchestrator.
type Ingester interface {
	IngestNew(ctx context.Context, name string, docs []domain.Document) (*ingest.Result, error)
	Ingest(ctx context.Context, analysisID string, docs []domain.Document) (*ingest.Result, error)
	Reenhance(ctx context.Context, analysisID string) (enhanced, total int, err error)
}

// UploadsHandler handles statement uploads and re-enhancement.
type UploadsHandler struct {
	ingester  Ingester
	publisher jobs.Publisher
	maxBytes  int64
	log       zerolog.Logger
}

// NewUploadsHandler creates a new uploads handler. publisher may be nil,
// in which case async re-enhancement is rejected.
func NewUploadsHandler(ingester Ingester, publisher jobs.Publisher, maxBytes int64, log zerolog.Logger) *UploadsHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &UploadsHandler{
		ingester:  ingester,
		publisher: publisher,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// UploadResponse is the body of a successful POST /api/uploads.
type UploadResponse struct {
	AnalysisID       string                       `json:"analysisId,omitempty"`
	StatementID      string                       `json:"statementId,omitempty"`
	TransactionCount int                          `json:"transactionCount"`
	FilesProcessed   int                          `json:"filesProcessed"`
	Status           string                       `json:"status"`
	Message          string                       `json:"message"`
	Files            []domain.ExtractionMetadata  `json:"files"`
	Transactions     []domain.EnrichedTransaction `json:"transactions"`
}

// Upload handles POST /api/uploads
//
// Multipart form: one or more "files" parts, an optional "name" for a new
// analysis, or an "analysisId" to add the files to an existing one.
func (h *UploadsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	docs, err := readDocuments(parts, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read upload")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	if len(docs) == 0 {
		middleware.WriteError(w, http.StatusUnprocessableEntity, "No supported files in upload")
		return
	}

	// A new analysis is only stored once the upload yields transactions.
	var res *ingest.Result
	analysisID := strings.TrimSpace(r.FormValue("analysisId"))
	if analysisID == "" {
		name := strings.TrimSpace(r.FormValue("name"))
		if name == "" {
			name = "Upload " + time.Now().UTC().Format("2006-01-02 15:04")
		}
		res, err = h.ingester.IngestNew(ctx, name, docs)
	} else {
		res, err = h.ingester.Ingest(ctx, analysisID, docs)
	}
	switch {
	case errors.Is(err, ingest.ErrNoFiles):
		middleware.WriteError(w, http.StatusBadRequest, "No files uploaded")
		return
	case errors.Is(err, ingest.ErrNoTransactions):
		resp := UploadResponse{
			AnalysisID:   analysisID,
			Status:       "error",
			Message:      "No transactions could be extracted from the uploaded files",
			Transactions: []domain.EnrichedTransaction{},
		}
		if res != nil {
			resp.AnalysisID = res.AnalysisID
			resp.Files = res.Files
			resp.FilesProcessed = len(res.Files)
		}
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, resp)
		return
	case err != nil:
		log.Error().Err(err).Str("analysis_id", analysisID).Msg("Ingestion failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process upload")
		return
	}

	preview := res.Transactions
	if len(preview) > previewSize {
		preview = preview[:previewSize]
	}
	middleware.WriteJSON(w, http.StatusOK, UploadResponse{
		AnalysisID:       res.AnalysisID,
		StatementID:      res.StatementID,
		TransactionCount: res.TransactionCount,
		FilesProcessed:   len(res.Files),
		Status:           "success",
		Message:          fmt.Sprintf("Processed %d files and extracted %d transactions", len(res.Files), res.TransactionCount),
		Files:            res.Files,
		Transactions:     preview,
	})
}

// readDocuments loads every supported part into memory. Unsupported
// extensions are skipped with a log line.
func readDocuments(parts []*multipart.FileHeader, log zerolog.Logger) ([]domain.Document, error) {
	var docs []domain.Document
	for _, fh := range parts {
		name := filepath.Base(fh.Filename)
		if !detector.Supported(name) {
			log.Info().Str("file", name).Msg("Skipping unsupported file type")
			continue
		}

		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("readDocuments: open %s: %w", name, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("readDocuments: read %s: %w", name, err)
		}
		docs = append(docs, domain.Document{Filename: name, Data: data})
	}
	return docs, nil
}

// Reenhance handles POST /api/reenhance
//
// {"analysisId": "...", "async": false}
func (h *UploadsHandler) Reenhance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnalysisID string `json:"analysisId"`
		Async      bool   `json:"async"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AnalysisID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "analysisId is required")
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)

	if req.Async {
		if h.publisher == nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Job queue is not available")
			return
		}
		job := &jobs.ReenhanceJob{AnalysisID: req.AnalysisID}
		if err := h.publisher.PublishReenhance(ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue re-enhance job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue re-enhance job")
			return
		}

		log.Info().Str("job_id", job.JobID).Str("analysis_id", req.AnalysisID).Msg("Re-enhance job enqueued")
		middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
			"job_id":     job.JobID,
			"analysisId": req.AnalysisID,
			"status":     string(job.Status),
		})
		return
	}

	enhanced, total, err := h.ingester.Reenhance(ctx, req.AnalysisID)
	if err != nil {
		log.Error().Err(err).Str("analysis_id", req.AnalysisID).Msg("Re-enhancement failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to re-enhance transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]int{
		"enhanced": enhanced,
		"total":    total,
	})
}
