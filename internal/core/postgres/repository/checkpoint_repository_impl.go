package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

// maxUpdateAttempts bounds the compare-and-swap loop in Update.
const maxUpdateAttempts = 5

type checkpointRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCheckpointRepository creates a new instance of CheckpointStore
func NewCheckpointRepository(db *gorm.DB) ports.CheckpointStore {
	return &checkpointRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *checkpointRepository) Put(ctx context.Context, instanceID string, snapshot domain.Instance, next domain.Node) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", instanceID, err)
	}
	now := r.now()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing CheckpointModel
		err := tx.Where("instance_id = ?", instanceID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&CheckpointModel{
				InstanceID: instanceID,
				Phase:      string(snapshot.Phase),
				NextNode:   string(next),
				Approved:   snapshot.Approved,
				Outcome:    string(snapshot.Outcome),
				Snapshot:   raw,
				Version:    1,
				CreatedAt:  now,
				UpdatedAt:  now,
			}).Error
		}
		if err != nil {
			return err
		}

		return r.swap(tx, existing.InstanceID, existing.Version, snapshot.Phase, snapshot.Approved, snapshot.Outcome, next, raw, now)
	})
}

func (r *checkpointRepository) Swap(ctx context.Context, instanceID string, version int, snapshot domain.Instance, next domain.Node) (int, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot %s: %w", instanceID, err)
	}
	err = r.swap(r.db.WithContext(ctx), instanceID, version, snapshot.Phase, snapshot.Approved, snapshot.Outcome, next, raw, r.now())
	if errors.Is(err, domain.ErrConflict) {
		if _, getErr := r.Get(ctx, instanceID); getErr != nil {
			return 0, getErr
		}
		return 0, fmt.Errorf("checkpoint %s: expected v%d: %w", instanceID, version, err)
	}
	if err != nil {
		return 0, err
	}
	return version + 1, nil
}

func (r *checkpointRepository) Get(ctx context.Context, instanceID string) (domain.Checkpoint, error) {
	var m CheckpointModel
	err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Checkpoint{}, fmt.Errorf("checkpoint %s: %w", instanceID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Checkpoint{}, err
	}
	return toCheckpoint(m)
}

// Update applies patch with optimistic locking: the row is rewritten only if
// its version is unchanged since it was read, retrying a bounded number of
// times when another writer got there first.
func (r *checkpointRepository) Update(ctx context.Context, instanceID string, patch domain.CheckpointPatch) (domain.Checkpoint, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := r.Get(ctx, instanceID)
		if err != nil {
			return domain.Checkpoint{}, err
		}

		now := r.now()
		updated, err := patch.Apply(current, now)
		if err != nil {
			return domain.Checkpoint{}, err
		}
		raw, err := json.Marshal(updated.State)
		if err != nil {
			return domain.Checkpoint{}, err
		}

		err = r.swap(r.db.WithContext(ctx), instanceID, current.Version, updated.State.Phase, updated.State.Approved, updated.State.Outcome, updated.NextNode, raw, now)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.Checkpoint{}, err
		}
		updated.Version = current.Version + 1
		return updated, nil
	}
	return domain.Checkpoint{}, fmt.Errorf("update checkpoint %s: %w", instanceID, domain.ErrConflict)
}

func (r *checkpointRepository) List(ctx context.Context) ([]domain.Checkpoint, error) {
	var models []CheckpointModel
	if err := r.db.WithContext(ctx).Order("created_at, instance_id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Checkpoint, 0, len(models))
	for _, m := range models {
		cp, err := toCheckpoint(m)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// swap writes the new state if the row still has version.
func (r *checkpointRepository) swap(db *gorm.DB, instanceID string, version int, phase domain.Phase, approved bool, outcome domain.Outcome, next domain.Node, snapshot []byte, now time.Time) error {
	result := db.
		Model(&CheckpointModel{}).
		Where("instance_id = ? AND version = ?", instanceID, version).
		Updates(map[string]interface{}{
			"phase":      string(phase),
			"next_node":  string(next),
			"approved":   approved,
			"outcome":    string(outcome),
			"snapshot":   datatypes.JSON(snapshot),
			"version":    version + 1,
			"updated_at": now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrConflict // another writer bumped the version
	}

	return nil
}

func toCheckpoint(m CheckpointModel) (domain.Checkpoint, error) {
	var state domain.Instance
	if err := json.Unmarshal(m.Snapshot, &state); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("decode snapshot %s: %w", m.InstanceID, err)
	}
	return domain.Checkpoint{
		InstanceID: m.InstanceID,
		State:      state,
		NextNode:   domain.Node(m.NextNode),
		Version:    m.Version,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}
