// Package pdftext pulls the plain text layer out of PDF statements.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// ErrNoText is returned for PDFs without a text layer (scanned statements).
var ErrNoText = errors.New("pdf has no extractable text")

// Extractor reads the text layer of a PDF held in memory.
type Extractor struct{}

// New returns a PDF text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the concatenated plain text of every page.
func (e *Extractor) Extract(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Extract: malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("Extract: open reader: %w", err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("Extract: get plain text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("Extract: read text: %w", err)
	}

	text = buf.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}
