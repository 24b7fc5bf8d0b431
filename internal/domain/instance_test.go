package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestInstance() Instance {
	return NewInstance("b-1", "https://github.com/octo/widgets/issues/7", "octo/widgets", "octo_widgets", "s-1", t0)
}

func TestInstance_HappyPathIsMonotonic(t *testing.T) {
	inst := newTestInstance()

	inst, err := inst.Analyzed(Analysis{IssueSummary: "fix it"}, nil, nil, t0.Add(time.Minute))
	require.NoError(t, err)
	inst, err = inst.CompetitionChecked(&CompetitionAnalysis{Recommendation: RecommendProceed}, nil, t0.Add(2*time.Minute))
	require.NoError(t, err)
	inst, err = inst.Planned(Plan{ApproachSummary: "small patch"}, nil, t0.Add(3*time.Minute))
	require.NoError(t, err)
	inst, err = inst.Approve(t0.Add(4 * time.Minute))
	require.NoError(t, err)
	inst, err = inst.Executed(ExecutionResult{BranchName: "fix/7"}, nil, t0.Add(5*time.Minute))
	require.NoError(t, err)
	inst, err = inst.Finish(OutcomeSubmitted, t0.Add(6*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, PhaseTerminal, inst.Phase)
	assert.Equal(t, OutcomeSubmitted, inst.Outcome)
	require.Len(t, inst.History, 5)
	for i := 1; i < len(inst.History); i++ {
		assert.True(t, inst.History[i-1].To.Before(inst.History[i].To), "history must be increasing")
	}
	assert.Equal(t, []Phase{PhaseAnalyzed, PhasePlanned, PhaseApproved, PhaseExecuted, PhaseTerminal},
		[]Phase{inst.History[0].To, inst.History[1].To, inst.History[2].To, inst.History[3].To, inst.History[4].To})
}

func TestInstance_ExecutingIsRecordedOnce(t *testing.T) {
	inst := newTestInstance()
	inst.Phase = PhaseApproved
	inst.Approved = true

	running, err := inst.Executing(t0)
	require.NoError(t, err)
	assert.Equal(t, PhaseExecuted, running.Phase)
	assert.Nil(t, running.ExecutionResult)

	done, err := running.Executed(ExecutionResult{BranchName: "fix/7"}, nil, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, PhaseExecuted, done.Phase)
	require.NotNil(t, done.ExecutionResult)
	assert.Len(t, done.History, 1, "D -> E is recorded once")

	_, err = running.Reject(t0)
	assert.ErrorIs(t, err, ErrApprovalLocked)

	unapproved := newTestInstance()
	unapproved.Phase = PhaseApproved
	_, err = unapproved.Executing(t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestInstance_TransitionsReturnCopies(t *testing.T) {
	orig := newTestInstance()
	next, err := orig.Analyzed(Analysis{}, nil, []string{"profile unavailable"}, t0)
	require.NoError(t, err)

	assert.Equal(t, PhaseAnalyzing, orig.Phase)
	assert.Empty(t, orig.History)
	assert.Empty(t, orig.Warnings)
	assert.Equal(t, []string{"profile unavailable"}, next.Warnings)
}

func TestInstance_OutOfOrderTransitionsFail(t *testing.T) {
	inst := newTestInstance()

	_, err := inst.Planned(Plan{}, nil, t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = inst.Approve(t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = inst.Executed(ExecutionResult{}, nil, t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestInstance_RejectLockedAfterExecution(t *testing.T) {
	inst := newTestInstance()
	inst.Phase = PhaseExecuted
	inst.Approved = true

	_, err := inst.Reject(t0)
	assert.ErrorIs(t, err, ErrApprovalLocked)
}

func TestInstance_RejectFromPlanned(t *testing.T) {
	inst := newTestInstance()
	inst.Phase = PhasePlanned

	out, err := inst.Reject(t0)
	require.NoError(t, err)
	assert.Equal(t, PhaseTerminal, out.Phase)
	assert.Equal(t, OutcomeRejected, out.Outcome)
	assert.False(t, out.Approved)
}

func TestInstance_FinishKeepsExistingOutcome(t *testing.T) {
	inst := newTestInstance()
	inst.Phase = PhasePlanned
	inst.Outcome = OutcomeRejected

	out, err := inst.Finish(OutcomeSkipped, t0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Outcome)
}

func TestCheckpointPatch_Apply(t *testing.T) {
	inst := newTestInstance()
	inst.Phase = PhasePlanned
	cp := Checkpoint{InstanceID: inst.ID, State: inst, NextNode: NodeApprovalGate, Version: 3}

	t.Run("approve", func(t *testing.T) {
		out, err := CheckpointPatch{Approved: Ptr(true), Phase: Ptr(PhaseApproved)}.Apply(cp, t0)
		require.NoError(t, err)
		assert.True(t, out.State.Approved)
		assert.Equal(t, PhaseApproved, out.State.Phase)
		assert.Equal(t, NodeApprovalGate, out.NextNode)
		assert.Equal(t, 3, out.Version)
	})

	t.Run("regression rejected", func(t *testing.T) {
		_, err := CheckpointPatch{Phase: Ptr(PhaseAnalyzed)}.Apply(cp, t0)
		assert.ErrorIs(t, err, ErrPhaseRegression)
	})

	t.Run("approval locked at E", func(t *testing.T) {
		locked := cp
		locked.State.Phase = PhaseExecuted
		locked.State.Approved = true
		_, err := CheckpointPatch{Approved: Ptr(false)}.Apply(locked, t0)
		assert.ErrorIs(t, err, ErrApprovalLocked)

		// Re-asserting the same value is not a change.
		_, err = CheckpointPatch{Approved: Ptr(true)}.Apply(locked, t0)
		assert.NoError(t, err)
	})

	t.Run("clear next node", func(t *testing.T) {
		out, err := CheckpointPatch{NextNode: Ptr(NodeNone), Phase: Ptr(PhaseTerminal), Outcome: Ptr(OutcomeRejected)}.Apply(cp, t0)
		require.NoError(t, err)
		assert.True(t, out.IsComplete())
		assert.Equal(t, "complete", out.PendingNode())
		assert.Equal(t, OutcomeRejected, out.State.Outcome)
	})
}

func TestRepoProfile_AddLearnedGotcha(t *testing.T) {
	p := &RepoProfile{Gotchas: []string{"run make lint"}}

	assert.False(t, p.AddLearnedGotcha("run make lint"))
	assert.True(t, p.AddLearnedGotcha("squash commits"))
	assert.False(t, p.AddLearnedGotcha("squash commits"))

	assert.Equal(t, []string{"run make lint", "squash commits"}, p.Gotchas)
	assert.Equal(t, []string{"squash commits"}, p.LearnedGotchas)
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, Namespace("learnings/rejections"), NamespaceLearnings.Child(string(CategoryRejections)))
	assert.True(t, NamespaceLearnings.Contains("learnings/successes"))
	assert.True(t, NamespaceLearnings.Contains(NamespaceLearnings))
	assert.False(t, NamespaceLearnings.Contains("learningsx"))
}

func TestExecResult_Text(t *testing.T) {
	assert.Equal(t, "keep PRs small", ExecResult{Response: []byte(`"keep PRs small"`)}.Text())
	assert.Equal(t, "", ExecResult{Response: []byte(`null`)}.Text())
	assert.True(t, ExecResult{Response: []byte(` {"a":1}`)}.IsObject())
	assert.False(t, ExecResult{Response: []byte(`[1]`)}.IsObject())
}
