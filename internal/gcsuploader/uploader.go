package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/statement-pipeline/internal/domain"
)

// uploadTimeout bounds a single object upload.
const uploadTimeout = 2 * time.Minute

// Archiver copies uploaded statement files into a GCS bucket under
// uploads/<analysis id>/.
type Archiver struct {
	client *storage.Client
	bucket string
}

// NewArchiver creates a storage client for bucket. It assumes Application
// Default Credentials are configured (gcloud auth application-default login).
func NewArchiver(ctx context.Context, bucket string) (*Archiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewArchiver: create storage client: %w", err)
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (a *Archiver) Close() error {
	return a.client.Close()
}

// Archive uploads doc and returns its gs:// URI.
func (a *Archiver) Archive(ctx context.Context, analysisID string, doc domain.Document) (string, error) {
	object := ObjectPath(analysisID, doc.Filename)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType(doc.Filename)
	w.Metadata = map[string]string{"analysis_id": analysisID, "original_filename": doc.Filename}

	if _, err := io.Copy(w, bytes.NewReader(doc.Data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Archive: copy %s to GCS writer: %w", doc.Filename, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Archive: finalize upload of %s: %w", doc.Filename, err)
	}

	return URI(a.bucket, object), nil
}

// ObjectPath is the object name an upload is archived under. Directory
// components of filename are dropped.
func ObjectPath(analysisID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" {
		base = "upload"
	}
	return path.Join("uploads", analysisID, base)
}

// URI formats a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ofx", ".qif":
		return "application/octet-stream"
	case ".csv":
		return "text/csv"
	}
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
