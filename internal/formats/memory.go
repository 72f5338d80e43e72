package formats

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps learned formats in process memory. It backs local
// runs without BigQuery and is safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*LearnedFormat
	byPrint map[string]string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*LearnedFormat),
		byPrint: make(map[string]string),
	}
}

// FindByFingerprint implements Repository.
func (r *MemoryRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*LearnedFormat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPrint[fingerprint]
	if !ok {
		return nil, nil
	}
	c := *r.byID[id]
	return &c, nil
}

// InsertFormat implements Repository.
func (r *MemoryRepository) InsertFormat(ctx context.Context, f *LearnedFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPrint[f.Fingerprint]; ok {
		return ErrFormatExists
	}
	c := *f
	r.byID[f.ID] = &c
	r.byPrint[f.Fingerprint] = f.ID
	return nil
}

// TouchFormat implements Repository.
func (r *MemoryRepository) TouchFormat(ctx context.Context, id string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("learned format not found: %s", id)
	}
	f.UseCount++
	t := usedAt
	f.LastUsedAt = &t
	return nil
}

// ListFormats implements Repository. Newest first.
func (r *MemoryRepository) ListFormats(ctx context.Context) ([]*LearnedFormat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*LearnedFormat, 0, len(r.byID))
	for _, f := range r.byID {
		c := *f
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LearnedAt.After(out[j].LearnedAt) })
	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
