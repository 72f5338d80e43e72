// Package completion wraps the large-language-model service used to extract
// and classify transaction data.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Attachment is binary content sent inline with a prompt, e.g. a screenshot.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Request is a single prompt plus optional attachments.
type Request struct {
	Prompt      string
	Attachments []Attachment
}

// Completer sends a prompt to the model and returns its raw text answer.
// Callers must treat any error or malformed answer as recoverable.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GeminiConfig configures the Gemini completer.
type GeminiConfig struct {
	Model   string
	APIKey  string
	Timeout time.Duration
}

// GeminiCompleter is the Completer backed by Google's genai SDK.
type GeminiCompleter struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewGeminiCompleter creates a genai client. With no API key the SDK falls
// back to its environment configuration (GOOGLE_API_KEY or Vertex AI ADC).
func NewGeminiCompleter(ctx context.Context, cfg GeminiConfig, log zerolog.Logger) (*GeminiCompleter, error) {
	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiCompleter: create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &GeminiCompleter{client: client, model: model, timeout: timeout, log: log}, nil
}

// Complete implements Completer.
func (g *GeminiCompleter) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := []*genai.Part{{Text: req.Prompt}}
	for _, a := range req.Attachments {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: a.MIMEType,
				Data:     a.Data,
			},
		})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.1)}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("Complete: generate content: %w", err)
	}

	text := resp.Text()
	g.log.Debug().
		Str("model", g.model).
		Int("prompt_chars", len(req.Prompt)).
		Int("attachments", len(req.Attachments)).
		Int("response_chars", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Model call completed")

	if text == "" {
		return "", fmt.Errorf("Complete: %w", ErrEmptyResponse)
	}
	return text, nil
}

var _ Completer = (*GeminiCompleter)(nil)
