// Package formats is the format learning store: it remembers, per statement
// fingerprint, a procedure that extracts transactions without a model call.
package formats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/procedure"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// learnTextWindow is how much statement text is shown to the model.
	learnTextWindow = 3000
	// maxSamples caps the sample transactions sent with a learn request.
	maxSamples = 5
)

// ErrFormatExists is returned by a Repository when a format with the same
// fingerprint was stored first.
var ErrFormatExists = errors.New("learned format already exists for fingerprint")

// LearnedFormat is a stored extraction procedure for one statement layout.
type LearnedFormat struct {
	ID                 string                  `json:"id"`
	Fingerprint        string                  `json:"fingerprint"`
	BankName           string                  `json:"bankName"`
	StatementType      domain.StatementType    `json:"statementType"`
	Procedure          *procedure.Procedure    `json:"procedure"`
	Description        string                  `json:"description"`
	SampleFirstPage    string                  `json:"sampleFirstPage"`
	SampleTransactions []domain.RawTransaction `json:"sampleTransactions"`
	LearnedAt          time.Time               `json:"learnedAt"`
	LastUsedAt         *time.Time              `json:"lastUsedAt,omitempty"`
	UseCount           int64                   `json:"useCount"`
}

// Repository persists learned formats. FindByFingerprint returns nil, nil
// when nothing is stored. Insert must enforce fingerprint uniqueness and
// report a conflict as ErrFormatExists.
type Repository interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*LearnedFormat, error)
	InsertFormat(ctx context.Context, f *LearnedFormat) error
	TouchFormat(ctx context.Context, id string, usedAt time.Time) error
	ListFormats(ctx context.Context) ([]*LearnedFormat, error)
}

// LearnRequest carries everything needed to learn a new format.
type LearnRequest struct {
	BankName      string
	StatementType domain.StatementType
	FullText      string
	Fingerprint   string
	Samples       []domain.RawTransaction
}

// Store is the format learning store.
type Store struct {
	repo      Repository
	completer completion.Completer
	log       zerolog.Logger
	now       func() time.Time
	learning  singleflight.Group
}

// NewStore creates a Store.
func NewStore(repo Repository, completer completion.Completer, log zerolog.Logger) *Store {
	return &Store{
		repo:      repo,
		completer: completer,
		log:       log,
		now:       time.Now,
	}
}

// Lookup returns the learned format for a fingerprint, or nil when none exists.
func (s *Store) Lookup(ctx context.Context, fingerprint string) (*LearnedFormat, error) {
	f, err := s.repo.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("Lookup: %w", err)
	}
	return f, nil
}

// RecordUsage bumps the use count and last-used time of a format.
func (s *Store) RecordUsage(ctx context.Context, id string) error {
	if err := s.repo.TouchFormat(ctx, id, s.now()); err != nil {
		return fmt.Errorf("RecordUsage: %w", err)
	}
	return nil
}

// List returns every learned format.
func (s *Store) List(ctx context.Context) ([]*LearnedFormat, error) {
	formats, err := s.repo.ListFormats(ctx)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return formats, nil
}

// Learn asks the model for a procedure matching the statement layout,
// checks it against the statement it was learned from, and stores it.
// Concurrent calls for one fingerprint share a single model call; a lost
// race against another writer returns the stored winner.
func (s *Store) Learn(ctx context.Context, req LearnRequest) (*LearnedFormat, error) {
	v, err, _ := s.learning.Do(req.Fingerprint, func() (interface{}, error) {
		return s.learn(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*LearnedFormat), nil
}

func (s *Store) learn(ctx context.Context, req LearnRequest) (*LearnedFormat, error) {
	log := s.log.With().Str("bank", req.BankName).Logger()

	raw, err := s.completer.Complete(ctx, completion.Request{Prompt: learnPrompt(req)})
	if err != nil {
		return nil, fmt.Errorf("Learn: model call: %w", err)
	}

	description, proc, err := decodeLearnResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("Learn: %w", err)
	}

	replayed, err := proc.Execute(ctx, req.FullText)
	if err != nil {
		return nil, fmt.Errorf("Learn: replaying procedure: %w", err)
	}

	samples := req.Samples
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}

	f := &LearnedFormat{
		ID:                 uuid.NewString(),
		Fingerprint:        req.Fingerprint,
		BankName:           req.BankName,
		StatementType:      req.StatementType,
		Procedure:          proc,
		Description:        description,
		SampleFirstPage:    head(req.FullText, learnTextWindow),
		SampleTransactions: samples,
		LearnedAt:          s.now(),
	}

	if err := s.repo.InsertFormat(ctx, f); err != nil {
		if errors.Is(err, ErrFormatExists) {
			log.Info().Msg("Format learned concurrently, using stored copy")
			existing, ferr := s.repo.FindByFingerprint(ctx, req.Fingerprint)
			if ferr != nil {
				return nil, fmt.Errorf("Learn: re-reading after conflict: %w", ferr)
			}
			if existing == nil {
				return nil, fmt.Errorf("Learn: %w but not readable", err)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("Learn: storing format: %w", err)
	}

	log.Info().
		Str("format_id", f.ID).
		Int("replayed_transactions", len(replayed)).
		Int("assisted_transactions", len(req.Samples)).
		Msg("Learned new statement format")

	return f, nil
}

func decodeLearnResponse(raw string) (string, *procedure.Procedure, error) {
	obj, err := completion.DecodeObject(raw)
	if err != nil {
		return "", nil, err
	}

	description, err := completion.GetString(obj, "description", false)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", completion.ErrMalformedResponse, err)
	}

	rawProc, ok := obj["procedure"].(map[string]interface{})
	if !ok {
		return "", nil, fmt.Errorf("%w: missing procedure object", completion.ErrMalformedResponse)
	}
	proc, err := procedureFromMap(rawProc)
	if err != nil {
		return "", nil, err
	}
	return description, proc, nil
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
