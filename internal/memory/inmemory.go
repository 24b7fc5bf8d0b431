// Package memory implements the long-term memory store and the typed
// operations built on it.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

// DefaultSearchLimit applies when a caller passes limit <= 0.
const DefaultSearchLimit = 10

type recordKey struct {
	ns  domain.Namespace
	key string
}

type entry struct {
	rec domain.Record
	vec []float32
	seq uint64
}

// InMemory is a non-persistent MemoryStore. With a nil embedder, Search
// returns matching records in insertion order with a zero score.
type InMemory struct {
	mu       sync.RWMutex
	embedder ports.Embedder
	records  map[recordKey]*entry
	seq      uint64
	now      func() time.Time
}

func NewInMemory(embedder ports.Embedder) *InMemory {
	return &InMemory{
		embedder: embedder,
		records:  make(map[recordKey]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *InMemory) Get(_ context.Context, ns domain.Namespace, key string) (domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.records[recordKey{ns, key}]
	if !ok {
		return domain.Record{}, fmt.Errorf("memory %s/%s: %w", ns, key, domain.ErrNotFound)
	}
	return copyRecord(e.rec), nil
}

func (m *InMemory) Put(ctx context.Context, ns domain.Namespace, key string, value []byte) error {
	text := domain.EmbeddingTextOf(value)
	var vec []float32
	if text != "" && m.embedder != nil {
		v, err := m.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed %s/%s: %w", ns, key, err)
		}
		vec = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := recordKey{ns, key}
	rec := domain.Record{
		Namespace:     ns,
		Key:           key,
		Value:         append([]byte(nil), value...),
		EmbeddingText: text,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if old, ok := m.records[k]; ok {
		rec.CreatedAt = old.rec.CreatedAt
		old.rec = rec
		old.vec = vec
		return nil
	}
	m.seq++
	m.records[k] = &entry{rec: rec, vec: vec, seq: m.seq}
	return nil
}

func (m *InMemory) List(_ context.Context, ns domain.Namespace) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.matching(ns, false)
	out := make([]domain.Record, len(entries))
	for i, e := range entries {
		out[i] = copyRecord(e.rec)
	}
	return out, nil
}

func (m *InMemory) Search(ctx context.Context, ns domain.Namespace, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var qvec []float32
	if m.embedder != nil && query != "" {
		v, err := m.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		qvec = v
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.matching(ns, true)
	results := make([]domain.SearchResult, len(entries))
	for i, e := range entries {
		results[i] = domain.SearchResult{Record: copyRecord(e.rec)}
		if qvec != nil {
			results[i].Score = Cosine(qvec, e.vec)
		}
	}
	if qvec != nil {
		// entries are in insertion order, so a stable sort keeps ties that way
		slices.SortStableFunc(results, func(a, b domain.SearchResult) int {
			return cmp.Compare(b.Score, a.Score)
		})
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// matching returns entries under ns in insertion order. Callers hold mu.
func (m *InMemory) matching(ns domain.Namespace, embeddedOnly bool) []*entry {
	var out []*entry
	for _, e := range m.records {
		if !ns.Contains(e.rec.Namespace) {
			continue
		}
		if embeddedOnly && e.rec.EmbeddingText == "" {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *entry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

func copyRecord(r domain.Record) domain.Record {
	r.Value = append([]byte(nil), r.Value...)
	return r
}
