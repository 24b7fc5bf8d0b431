// Package checkpointtest holds behaviour tests shared by every
// CheckpointStore implementation.
package checkpointtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

// T0 is the fixed clock used by the fixtures.
var T0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Planned returns an instance parked at phase C with analysis and plan set.
func Planned(id string) domain.Instance {
	inst := domain.NewInstance(id, "https://github.com/octo/widgets/issues/7", "octo/widgets", "octo_widgets", "bounty-"+id+"-0000abcd", T0)
	inst, _ = inst.Analyzed(domain.Analysis{IssueSummary: "nil map panic"}, nil, nil, T0.Add(time.Minute))
	inst, _ = inst.CompetitionChecked(&domain.CompetitionAnalysis{Recommendation: domain.RecommendProceed}, nil, T0.Add(2*time.Minute))
	inst, _ = inst.Planned(domain.Plan{ApproachSummary: "guard the map"}, nil, T0.Add(3*time.Minute))
	return inst
}

// Run exercises newStore; each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) ports.CheckpointStore) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := newStore(t).Get(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t)
		inst := Planned("b-1")
		require.NoError(t, s.Put(ctx, "b-1", inst, domain.NodeApprovalGate))

		cp, err := s.Get(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, "b-1", cp.InstanceID)
		assert.Equal(t, domain.NodeApprovalGate, cp.NextNode)
		assert.Equal(t, domain.PhasePlanned, cp.State.Phase)
		assert.Equal(t, "guard the map", cp.State.Plan.ApproachSummary)
		assert.Equal(t, inst.SessionID, cp.State.SessionID)
		assert.Len(t, cp.State.History, 2)
		assert.True(t, cp.State.CreatedAt.Equal(T0))
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStore(t)
		inst := Planned("b-1")
		require.NoError(t, s.Put(ctx, "b-1", inst, domain.NodeApprovalGate))

		done, err := inst.Finish(domain.OutcomeSkipped, T0.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, "b-1", done, domain.NodeNone))

		cp, err := s.Get(ctx, "b-1")
		require.NoError(t, err)
		assert.True(t, cp.IsComplete())
		assert.Equal(t, domain.OutcomeSkipped, cp.State.Outcome)
	})

	t.Run("update approves without full round trip", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "b-1", Planned("b-1"), domain.NodeApprovalGate))

		cp, err := s.Update(ctx, "b-1", domain.CheckpointPatch{
			Approved: domain.Ptr(true),
			Phase:    domain.Ptr(domain.PhaseApproved),
		})
		require.NoError(t, err)
		assert.True(t, cp.State.Approved)
		assert.Equal(t, domain.NodeApprovalGate, cp.NextNode)

		got, err := s.Get(ctx, "b-1")
		require.NoError(t, err)
		assert.True(t, got.State.Approved)
		assert.Equal(t, domain.PhaseApproved, got.State.Phase)
		assert.Equal(t, "nil map panic", got.State.Analysis.IssueSummary)
	})

	t.Run("update enforces invariants", func(t *testing.T) {
		s := newStore(t)
		inst := Planned("b-1")
		inst.Phase = domain.PhaseExecuted
		inst.Approved = true
		require.NoError(t, s.Put(ctx, "b-1", inst, domain.NodeNone))

		_, err := s.Update(ctx, "b-1", domain.CheckpointPatch{Approved: domain.Ptr(false)})
		assert.ErrorIs(t, err, domain.ErrApprovalLocked)

		_, err = s.Update(ctx, "b-1", domain.CheckpointPatch{Phase: domain.Ptr(domain.PhaseAnalyzed)})
		assert.ErrorIs(t, err, domain.ErrPhaseRegression)

		got, err := s.Get(ctx, "b-1")
		require.NoError(t, err)
		assert.True(t, got.State.Approved)
		assert.Equal(t, domain.PhaseExecuted, got.State.Phase)
	})

	t.Run("swap is conditional on version", func(t *testing.T) {
		s := newStore(t)
		inst := Planned("b-1")
		require.NoError(t, s.Put(ctx, "b-1", inst, domain.NodeApprovalGate))
		read, err := s.Get(ctx, "b-1")
		require.NoError(t, err)

		rejected, err := s.Update(ctx, "b-1", domain.CheckpointPatch{
			Phase:    domain.Ptr(domain.PhaseTerminal),
			Outcome:  domain.Ptr(domain.OutcomeRejected),
			NextNode: domain.Ptr(domain.NodeNone),
		})
		require.NoError(t, err)
		assert.Equal(t, read.Version+1, rejected.Version)

		approved, err := inst.Approve(T0.Add(time.Hour))
		require.NoError(t, err)
		_, err = s.Swap(ctx, "b-1", read.Version, approved, domain.NodeExecute)
		assert.ErrorIs(t, err, domain.ErrConflict)

		got, err := s.Get(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseTerminal, got.State.Phase)
		assert.Equal(t, domain.OutcomeRejected, got.State.Outcome)
		assert.True(t, got.IsComplete())

		v, err := s.Swap(ctx, "b-1", got.Version, got.State, domain.NodeNone)
		require.NoError(t, err)
		assert.Equal(t, got.Version+1, v)

		_, err = s.Swap(ctx, "nope", 1, inst, domain.NodeNone)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := newStore(t).Update(ctx, "nope", domain.CheckpointPatch{Approved: domain.Ptr(true)})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "b-1", Planned("b-1"), domain.NodeApprovalGate))
		require.NoError(t, s.Put(ctx, "b-2", Planned("b-2"), domain.NodeApprovalGate))

		all, err := s.List(ctx)
		require.NoError(t, err)
		ids := []string{}
		for _, cp := range all {
			ids = append(ids, cp.InstanceID)
		}
		assert.ElementsMatch(t, []string{"b-1", "b-2"}, ids)
	})
}
