package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is a Store held in process memory, used for dry runs.
type MemoryStore struct {
	mu           sync.RWMutex
	analyses     map[string]*Analysis
	statements   []*Statement
	transactions []StoredTransaction
	index        map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		analyses: make(map[string]*Analysis),
		index:    make(map[string]int),
	}
}

// CreateAnalysis stores a.
func (m *MemoryStore) CreateAnalysis(ctx context.Context, a *Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analyses[a.ID]; ok {
		return fmt.Errorf("analysis %s already exists", a.ID)
	}
	cp := *a
	m.analyses[a.ID] = &cp
	return nil
}

// InsertStatement stores s.
func (m *MemoryStore) InsertStatement(ctx context.Context, s *Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.statements = append(m.statements, &cp)
	return nil
}

// InsertTransactions stores rows whose ID is new.
func (m *MemoryStore) InsertTransactions(ctx context.Context, txs []StoredTransaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inserted int64
	for _, tx := range txs {
		if _, ok := m.index[tx.ID]; ok {
			continue
		}
		m.index[tx.ID] = len(m.transactions)
		m.transactions = append(m.transactions, tx)
		inserted++
	}
	return inserted, nil
}

// ListTransactions returns the analysis's rows in insertion order.
func (m *MemoryStore) ListTransactions(ctx context.Context, analysisID string) ([]StoredTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StoredTransaction
	for _, tx := range m.transactions {
		if tx.AnalysisID == analysisID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// UpdateEnrichment overwrites the enrichment columns of existing rows.
func (m *MemoryStore) UpdateEnrichment(ctx context.Context, txs []StoredTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		i, ok := m.index[tx.ID]
		if !ok {
			return fmt.Errorf("transaction %s not found", tx.ID)
		}
		m.transactions[i].EnrichedTransaction = tx.EnrichedTransaction
	}
	return nil
}

// Statements returns a copy of the stored statements.
func (m *MemoryStore) Statements() []Statement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Statement, len(m.statements))
	for i, s := range m.statements {
		out[i] = *s
	}
	return out
}

// Analyses returns a copy of the stored analyses ordered by ID.
func (m *MemoryStore) Analyses() []Analysis {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Analysis, 0, len(m.analyses))
	for _, a := range m.analyses {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
