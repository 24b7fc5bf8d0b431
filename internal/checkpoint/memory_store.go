// Package checkpoint stores workflow checkpoints in the long-term memory
// store, one record per instance under bounties/{instance_id}. It backs
// development mode; production uses the gorm repository.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

// MemoryStore adapts a ports.MemoryStore into a ports.CheckpointStore.
// Writes are serialized in process; it must not be shared by several
// processes over one durable memory store.
type MemoryStore struct {
	mu    sync.Mutex
	store ports.MemoryStore
	now   func() time.Time
}

func NewMemoryStore(store ports.MemoryStore) *MemoryStore {
	return &MemoryStore{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Put(ctx context.Context, instanceID string, snapshot domain.Instance, next domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := 1
	current, err := s.get(ctx, instanceID)
	switch {
	case err == nil:
		version = current.Version + 1
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	return s.write(ctx, domain.Checkpoint{
		InstanceID: instanceID,
		State:      snapshot,
		NextNode:   next,
		Version:    version,
		UpdatedAt:  s.now(),
	})
}

func (s *MemoryStore) Swap(ctx context.Context, instanceID string, version int, snapshot domain.Instance, next domain.Node) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.get(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	if current.Version != version {
		return 0, fmt.Errorf("checkpoint %s at v%d, expected v%d: %w", instanceID, current.Version, version, domain.ErrConflict)
	}
	cp := domain.Checkpoint{
		InstanceID: instanceID,
		State:      snapshot,
		NextNode:   next,
		Version:    version + 1,
		UpdatedAt:  s.now(),
	}
	if err := s.write(ctx, cp); err != nil {
		return 0, err
	}
	return cp.Version, nil
}

func (s *MemoryStore) Get(ctx context.Context, instanceID string) (domain.Checkpoint, error) {
	return s.get(ctx, instanceID)
}

func (s *MemoryStore) Update(ctx context.Context, instanceID string, patch domain.CheckpointPatch) (domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.get(ctx, instanceID)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	updated, err := patch.Apply(current, s.now())
	if err != nil {
		return domain.Checkpoint{}, err
	}
	updated.Version = current.Version + 1
	if err := s.write(ctx, updated); err != nil {
		return domain.Checkpoint{}, err
	}
	return updated, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.Checkpoint, error) {
	recs, err := s.store.List(ctx, domain.NamespaceBounties)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Checkpoint, 0, len(recs))
	for _, rec := range recs {
		cp, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) get(ctx context.Context, instanceID string) (domain.Checkpoint, error) {
	rec, err := s.store.Get(ctx, domain.NamespaceBounties, instanceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Checkpoint{}, fmt.Errorf("checkpoint %s: %w", instanceID, domain.ErrNotFound)
		}
		return domain.Checkpoint{}, err
	}
	return decode(rec)
}

func (s *MemoryStore) write(ctx context.Context, cp domain.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.InstanceID, err)
	}
	return s.store.Put(ctx, domain.NamespaceBounties, cp.InstanceID, raw)
}

func decode(rec domain.Record) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal(rec.Value, &cp); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", rec.Key, err)
	}
	return cp, nil
}
