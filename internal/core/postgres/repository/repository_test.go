package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bounty-orchestrator/internal/checkpoint/checkpointtest"
	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/memory"
	"bounty-orchestrator/internal/memory/memorytest"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestMemoryRepository_Contract(t *testing.T) {
	memorytest.Run(t, func(t *testing.T) ports.MemoryStore {
		return NewMemoryRepository(newTestDB(t), memory.NewHashingEmbedder(memory.DefaultDims))
	})
}

func TestMemoryRepository_RejectsInvalidJSON(t *testing.T) {
	s := NewMemoryRepository(newTestDB(t), nil)
	err := s.Put(context.Background(), domain.NamespaceUsers, "u1", []byte(`{broken`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCheckpointRepository_Contract(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) ports.CheckpointStore {
		return NewCheckpointRepository(newTestDB(t))
	})
}

func TestCheckpointRepository_VersionBumps(t *testing.T) {
	ctx := context.Background()
	s := NewCheckpointRepository(newTestDB(t))

	inst := domain.NewInstance("b-1", "ref", "octo/widgets", "octo_widgets", "s", checkpointtest.T0)
	require.NoError(t, s.Put(ctx, "b-1", inst, domain.NodeAnalyze))
	require.NoError(t, s.Put(ctx, "b-1", inst, domain.NodeCheckCompetition))

	cp, err := s.Get(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Version)

	cp, err = s.Update(ctx, "b-1", domain.CheckpointPatch{NextNode: domain.Ptr(domain.NodeCreatePlan)})
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Version)
}

func TestCheckpointRepository_ConcurrentUpdatesAllLand(t *testing.T) {
	ctx := context.Background()
	s := NewCheckpointRepository(newTestDB(t))

	inst := domain.NewInstance("b-1", "ref", "octo/widgets", "octo_widgets", "s", checkpointtest.T0)
	inst.Phase = domain.PhasePlanned
	require.NoError(t, s.Put(ctx, "b-1", inst, domain.NodeApprovalGate))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "b-1", domain.CheckpointPatch{Approved: domain.Ptr(true)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cp, err := s.Get(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, cp.State.Approved)
	assert.Equal(t, 4, cp.Version)
}
