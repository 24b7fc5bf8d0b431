package repository

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/memory"
)

type memoryRepository struct {
	db       *gorm.DB
	embedder ports.Embedder
	now      func() time.Time
}

// NewMemoryRepository creates a durable MemoryStore. Vectors are stored as
// JSON and ranked in process, so any SQL database works.
func NewMemoryRepository(db *gorm.DB, embedder ports.Embedder) ports.MemoryStore {
	return &memoryRepository{
		db:       db,
		embedder: embedder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryRepository) Get(ctx context.Context, ns domain.Namespace, key string) (domain.Record, error) {
	var m MemoryRecordModel
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND record_key = ?", string(ns), key).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Record{}, fmt.Errorf("memory %s/%s: %w", ns, key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Record{}, err
	}
	return toRecord(m), nil
}

func (r *memoryRepository) Put(ctx context.Context, ns domain.Namespace, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("memory %s/%s: %w: value is not JSON", ns, key, domain.ErrInvalidInput)
	}

	m := MemoryRecordModel{
		Namespace:     string(ns),
		RecordKey:     key,
		Value:         datatypes.JSON(value),
		EmbeddingText: domain.EmbeddingTextOf(value),
	}
	if m.EmbeddingText != "" && r.embedder != nil {
		vec, err := r.embedder.Embed(ctx, m.EmbeddingText)
		if err != nil {
			return fmt.Errorf("embed %s/%s: %w", ns, key, err)
		}
		raw, err := json.Marshal(vec)
		if err != nil {
			return err
		}
		m.Embedding = raw
	}
	now := r.now()
	m.CreatedAt = now
	m.UpdatedAt = now

	// created_at is left out of the conflict update so it keeps the first write time
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "embedding_text", "embedding", "updated_at"}),
		}).
		Create(&m).Error
}

func (r *memoryRepository) List(ctx context.Context, ns domain.Namespace) ([]domain.Record, error) {
	models, err := r.under(ctx, ns, false)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, len(models))
	for i, m := range models {
		out[i] = toRecord(m)
	}
	return out, nil
}

func (r *memoryRepository) Search(ctx context.Context, ns domain.Namespace, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}

	var qvec []float32
	if r.embedder != nil && query != "" {
		v, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		qvec = v
	}

	models, err := r.under(ctx, ns, true)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, len(models))
	for i, m := range models {
		results[i] = domain.SearchResult{Record: toRecord(m)}
		if qvec == nil || len(m.Embedding) == 0 {
			continue
		}
		var vec []float32
		if err := json.Unmarshal(m.Embedding, &vec); err != nil {
			continue
		}
		results[i].Score = memory.Cosine(qvec, vec)
	}
	if qvec != nil {
		slices.SortStableFunc(results, func(a, b domain.SearchResult) int {
			return cmp.Compare(b.Score, a.Score)
		})
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// under loads ns and its sub-namespaces in insertion order.
func (r *memoryRepository) under(ctx context.Context, ns domain.Namespace, embeddedOnly bool) ([]MemoryRecordModel, error) {
	q := r.db.WithContext(ctx).
		Where("namespace = ? OR namespace LIKE ?", string(ns), string(ns)+"/%")
	if embeddedOnly {
		q = q.Where("embedding_text <> ''")
	}

	var models []MemoryRecordModel
	if err := q.Order("created_at, namespace, record_key").Find(&models).Error; err != nil {
		return nil, err
	}
	// LIKE treats _ and % in ns as wildcards; re-check the prefix exactly
	return slices.DeleteFunc(models, func(m MemoryRecordModel) bool {
		return !ns.Contains(domain.Namespace(m.Namespace))
	}), nil
}

func toRecord(m MemoryRecordModel) domain.Record {
	return domain.Record{
		Namespace:     domain.Namespace(m.Namespace),
		Key:           m.RecordKey,
		Value:         json.RawMessage(m.Value),
		EmbeddingText: m.EmbeddingText,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
