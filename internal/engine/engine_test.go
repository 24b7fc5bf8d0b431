package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-orchestrator/internal/checkpoint"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/executor/executortest"
	"bounty-orchestrator/internal/knowledge"
	"bounty-orchestrator/internal/memory"
	"bounty-orchestrator/internal/metrics"
	"bounty-orchestrator/internal/prompt"
	"bounty-orchestrator/internal/schema"
)

const (
	promptAnalyze     = "Analyze this GitHub issue"
	promptCompetition = "Check for competition on this bounty"
	promptPlan        = "Create an implementation plan"
	promptExecute     = "Implement a fix for this bounty"
	promptSync        = "Analyze this repository for bounty work preparation"
)

type recordingBus struct {
	mu     sync.Mutex
	events []domain.InstanceEvent
}

func (b *recordingBus) Publish(_ context.Context, ev domain.InstanceEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Subscribe(context.Context) (<-chan domain.InstanceEvent, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) types() []domain.InstanceEventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.InstanceEventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	engine *Engine
	store  *checkpoint.MemoryStore
	mgr    *memory.Manager
	exec   *executortest.Fake
	bus    *recordingBus
}

func scriptedExecutor() *executortest.Fake {
	return executortest.New().
		On(promptSync, executortest.Reply{Response: map[string]any{
			"commands": map[string]string{"lint": "make lint", "test": "go test ./..."},
			"gotchas":  []string{"run make generate"},
		}}).
		On(promptAnalyze, executortest.Reply{Response: map[string]any{
			"issue_summary": "nil map panic in widget cache",
			"complexity":    3,
			"guidelines":    "sign commits",
		}}).
		On(promptCompetition, executortest.Reply{Response: map[string]any{
			"competing_count": 0,
			"recommendation":  "proceed",
		}}).
		On(promptPlan, executortest.Reply{Response: map[string]any{
			"files_to_modify":  []string{"cache/cache.go"},
			"approach_summary": "initialise the map in the constructor",
		}}).
		On(promptExecute, executortest.Reply{Response: map[string]any{
			"branch_name":  "fix/7-nil-map",
			"pr_title":     "fix(cache): initialise map",
			"lint_passed":  true,
			"tests_passed": true,
		}})
}

func newFixture(t *testing.T, exec *executortest.Fake, policy CompetitionPolicy) fixture {
	t.Helper()
	mem := memory.NewInMemory(memory.NewHashingEmbedder(memory.DefaultDims))
	f := fixture{
		store: checkpoint.NewMemoryStore(mem),
		mgr:   memory.NewManager(mem, nil),
		exec:  exec,
		bus:   &recordingBus{},
	}
	f.engine = f.withExecutor(exec, policy)
	return f
}

// withExecutor builds another engine over the same stores.
func (f fixture) withExecutor(exec *executortest.Fake, policy CompetitionPolicy) *Engine {
	prompts := prompt.MustNew()
	return New(Deps{
		Checkpoints: f.store,
		Executor:    exec,
		Profiles:    knowledge.NewSynchronizer(exec, f.mgr, prompts, 0, nil),
		Lessons:     f.mgr,
		Prompts:     prompts,
		Schemas:     schema.MustNew(),
		Bus:         f.bus,
		Metrics:     metrics.New(),
	}, policy, nil)
}

func (f fixture) start(t *testing.T, id string) {
	t.Helper()
	inst := domain.NewInstance(id, "https://github.com/octo/widgets/issues/7", "octo/widgets",
		domain.TargetKey("octo/widgets"), "bounty-"+id+"-0000abcd", time.Now().UTC())
	require.NoError(t, f.store.Put(context.Background(), id, inst, domain.NodeAnalyze))
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedExecutor(), PolicyProceed)
	f.start(t, "b-1")

	_, err := f.mgr.RecordLearning(ctx, domain.Learning{
		Category: domain.CategoryRejections,
		Target:   "octo/widgets",
		Lesson:   "keep the diff under 50 lines",
	})
	require.NoError(t, err)

	res, err := f.engine.Run(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	assert.False(t, res.Completed)
	assert.Equal(t, domain.PhasePlanned, res.Phase)
	assert.Equal(t, domain.NodeApprovalGate, res.NextNode)

	cp, err := f.store.Get(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "approval_gate", cp.PendingNode())
	assert.Equal(t, "nil map panic in widget cache", cp.State.Analysis.IssueSummary)
	require.NotNil(t, cp.State.Competition)
	assert.Equal(t, "initialise the map in the constructor", cp.State.Plan.ApproachSummary)
	require.NotNil(t, cp.State.TargetProfile)
	assert.Equal(t, "make lint", cp.State.TargetProfile.Command("lint"))
	assert.Empty(t, cp.State.Warnings)

	// A second run before approval is a no-op.
	calls := len(f.exec.Calls())
	res, err = f.engine.Run(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	assert.Len(t, f.exec.Calls(), calls)

	_, err = f.store.Update(ctx, "b-1", domain.CheckpointPatch{
		Approved: domain.Ptr(true),
		Phase:    domain.Ptr(domain.PhaseApproved),
	})
	require.NoError(t, err)

	res, err = f.engine.Run(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, domain.PhaseTerminal, res.Phase)
	assert.Equal(t, domain.OutcomeSubmitted, res.Outcome)

	cp, err = f.store.Get(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "complete", cp.PendingNode())
	require.NotNil(t, cp.State.ExecutionResult)
	assert.Equal(t, "fix/7-nil-map", cp.State.ExecutionResult.BranchName)
	assert.True(t, cp.State.Approved)

	var phases []domain.Phase
	for _, h := range cp.State.History {
		phases = append(phases, h.To)
	}
	assert.Equal(t, []domain.Phase{
		domain.PhaseAnalyzed, domain.PhasePlanned, domain.PhaseApproved, domain.PhaseExecuted, domain.PhaseTerminal,
	}, phases)

	for _, c := range f.exec.Calls() {
		if c.Context["purpose"] == knowledge.PurposeRepoSync {
			continue
		}
		assert.Equal(t, "bounty-b-1-0000abcd", c.SessionID)
	}

	var analyzePrompt, executePrompt string
	for _, c := range f.exec.Calls() {
		switch {
		case strings.HasPrefix(c.Prompt, promptAnalyze):
			analyzePrompt = c.Prompt
		case strings.HasPrefix(c.Prompt, promptExecute):
			executePrompt = c.Prompt
			assert.Equal(t, true, c.Context["human_approved"])
		}
	}
	assert.Contains(t, analyzePrompt, "keep the diff under 50 lines")
	assert.Contains(t, executePrompt, "run make generate")
	assert.Contains(t, executePrompt, "keep the diff under 50 lines")
	assert.Contains(t, executePrompt, "Lint: make lint")

	types := f.bus.types()
	assert.Contains(t, types, domain.EventSuspended)
	assert.Equal(t, domain.EventCompleted, types[len(types)-1])

	var executing bool
	for _, ev := range f.bus.events {
		if ev.Phase == domain.PhaseExecuted && ev.NextNode == domain.NodeExecute {
			executing = true
		}
		assert.NotEmpty(t, ev.ID)
	}
	assert.True(t, executing, "phase E is committed before the executor runs")
}

func TestEngine_ExecutionIsVisibleAsPhaseE(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedExecutor(), PolicyProceed)
	f.start(t, "b-11")

	_, err := f.engine.Run(ctx, "b-11")
	require.NoError(t, err)
	_, err = f.store.Update(ctx, "b-11", domain.CheckpointPatch{
		Approved: domain.Ptr(true),
		Phase:    domain.Ptr(domain.PhaseApproved),
	})
	require.NoError(t, err)

	var seen domain.Checkpoint
	watching := executortest.New().On(promptExecute, executortest.Reply{
		Err: &domain.ExecutionFailure{Kind: domain.FailureTimeout, Err: context.DeadlineExceeded},
		Before: func(domain.ExecRequest) {
			cp, err := f.store.Get(ctx, "b-11")
			assert.NoError(t, err)
			seen = cp
		},
	})
	_, err = f.withExecutor(watching, PolicyProceed).Run(ctx, "b-11")
	require.Error(t, err)
	assert.Equal(t, domain.PhaseExecuted, seen.State.Phase)
	assert.Equal(t, "execute", seen.PendingNode())

	cp, err := f.store.Get(ctx, "b-11")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseExecuted, cp.State.Phase)
	assert.Equal(t, domain.NodeExecute, cp.NextNode)
	assert.Nil(t, cp.State.ExecutionResult)

	_, err = f.store.Update(ctx, "b-11", domain.CheckpointPatch{Approved: domain.Ptr(false)})
	assert.ErrorIs(t, err, domain.ErrApprovalLocked)

	res, err := f.engine.Run(ctx, "b-11")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, domain.OutcomeSubmitted, res.Outcome)

	cp, err = f.store.Get(ctx, "b-11")
	require.NoError(t, err)
	var toE int
	for _, h := range cp.State.History {
		if h.To == domain.PhaseExecuted {
			toE++
		}
	}
	assert.Equal(t, 1, toE)
}

func TestEngine_SkipsOnCompetition(t *testing.T) {
	ctx := context.Background()
	exec := executortest.New().On(promptCompetition, executortest.Reply{Response: map[string]any{
		"competing_prs":  2,
		"recommendation": "proceed",
	}})
	f := newFixture(t, exec, PolicyProceed)
	f.start(t, "b-2")

	res, err := f.engine.Run(ctx, "b-2")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, domain.PhaseTerminal, res.Phase)
	assert.Zero(t, exec.CallCount(promptPlan))

	cp, err := f.store.Get(ctx, "b-2")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.State.Competition.CompetingCount)
	assert.Nil(t, cp.State.Plan)
}

func TestEngine_MalformedCompetitionFollowsPolicy(t *testing.T) {
	ctx := context.Background()
	newExec := func() *executortest.Fake {
		return executortest.New().On(promptCompetition, executortest.Reply{Response: "nobody seems to be working on it"})
	}

	t.Run("proceed", func(t *testing.T) {
		f := newFixture(t, newExec(), PolicyProceed)
		f.start(t, "b-3")
		res, err := f.engine.Run(ctx, "b-3")
		require.NoError(t, err)
		assert.True(t, res.Suspended)

		cp, err := f.store.Get(ctx, "b-3")
		require.NoError(t, err)
		assert.Nil(t, cp.State.Competition)
		require.Len(t, cp.State.Warnings, 1)
		assert.Contains(t, cp.State.Warnings[0], "competition data unusable")
	})

	t.Run("skip", func(t *testing.T) {
		f := newFixture(t, newExec(), PolicySkip)
		f.start(t, "b-3")
		res, err := f.engine.Run(ctx, "b-3")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	})

	t.Run("empty object is not a proceed verdict", func(t *testing.T) {
		exec := executortest.New().On(promptCompetition, executortest.Reply{Response: map[string]any{}})
		f := newFixture(t, exec, PolicySkip)
		f.start(t, "b-3")
		res, err := f.engine.Run(ctx, "b-3")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
		assert.Zero(t, exec.CallCount(promptPlan))

		cp, err := f.store.Get(ctx, "b-3")
		require.NoError(t, err)
		assert.Nil(t, cp.State.Competition)
		require.NotEmpty(t, cp.State.Warnings)
		assert.Contains(t, cp.State.Warnings[len(cp.State.Warnings)-1], "competition data unusable")
	})
}

func TestEngine_ExecutorFailureIsResumable(t *testing.T) {
	ctx := context.Background()
	boom := &domain.ExecutionFailure{Kind: domain.FailureStatus, StatusCode: 503, Err: errors.New("overloaded")}
	failing := executortest.New().On(promptPlan, executortest.Reply{Err: boom})
	f := newFixture(t, failing, PolicyProceed)
	f.start(t, "b-4")

	_, err := f.engine.Run(ctx, "b-4")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, domain.IsRetryable(err))

	cp, err := f.store.Get(ctx, "b-4")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeCreatePlan, cp.NextNode)
	assert.Equal(t, domain.PhaseAnalyzed, cp.State.Phase)
	assert.Nil(t, cp.State.Plan)

	healthy := scriptedExecutor()
	res, err := f.withExecutor(healthy, PolicyProceed).Run(ctx, "b-4")
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	assert.Zero(t, healthy.CallCount(promptAnalyze), "committed nodes are not re-run")
	assert.Equal(t, 1, healthy.CallCount(promptPlan))
}

func TestEngine_RejectionAtGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedExecutor(), PolicyProceed)
	f.start(t, "b-5")

	_, err := f.engine.Run(ctx, "b-5")
	require.NoError(t, err)

	_, err = f.store.Update(ctx, "b-5", domain.CheckpointPatch{Outcome: domain.Ptr(domain.OutcomeRejected)})
	require.NoError(t, err)

	res, err := f.engine.Run(ctx, "b-5")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, domain.OutcomeRejected, res.Outcome)
	assert.Zero(t, f.exec.CallCount(promptExecute))
}

func TestEngine_DecisionDuringNodeWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedExecutor(), PolicyProceed)
	f.start(t, "b-10")

	// The rejection lands while check_competition is still waiting on the executor.
	rejecting := executortest.New().On(promptCompetition, executortest.Reply{
		Response: map[string]any{"competing_count": 0, "recommendation": "proceed"},
		Before: func(domain.ExecRequest) {
			_, err := f.store.Update(ctx, "b-10", domain.CheckpointPatch{
				Approved: domain.Ptr(false),
				Phase:    domain.Ptr(domain.PhaseTerminal),
				Outcome:  domain.Ptr(domain.OutcomeRejected),
				NextNode: domain.Ptr(domain.NodeNone),
			})
			assert.NoError(t, err)
		},
	})
	rejecting.On(promptAnalyze, executortest.Reply{Response: map[string]any{"issue_summary": "nil map panic"}})

	_, err := f.withExecutor(rejecting, PolicyProceed).Run(ctx, "b-10")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, rejecting.CallCount(promptPlan))

	cp, err := f.store.Get(ctx, "b-10")
	require.NoError(t, err)
	assert.True(t, cp.IsComplete())
	assert.Equal(t, domain.PhaseTerminal, cp.State.Phase)
	assert.Equal(t, domain.OutcomeRejected, cp.State.Outcome)
	assert.Nil(t, cp.State.Competition)

	res, err := f.engine.Run(ctx, "b-10")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, domain.OutcomeRejected, res.Outcome)
}

func TestEngine_EnrichmentFailuresAreWarnings(t *testing.T) {
	ctx := context.Background()
	exec := executortest.New().
		On(promptSync, executortest.Reply{Err: &domain.ExecutionFailure{Kind: domain.FailureUnreachable, Err: errors.New("dial tcp")}})
	for _, p := range []string{promptAnalyze, promptCompetition, promptPlan} {
		exec.On(p, executortest.Reply{Response: map[string]any{}})
	}
	f := newFixture(t, exec, PolicyProceed)
	f.start(t, "b-6")

	res, err := f.engine.Run(ctx, "b-6")
	require.NoError(t, err)
	assert.True(t, res.Suspended)

	cp, err := f.store.Get(ctx, "b-6")
	require.NoError(t, err)
	assert.Nil(t, cp.State.TargetProfile)
	require.NotEmpty(t, cp.State.Warnings)
	assert.Contains(t, cp.State.Warnings[0], "repo profile unavailable")
}

func TestEngine_RawPayloadsAreKept(t *testing.T) {
	ctx := context.Background()
	exec := executortest.New().
		On(promptAnalyze, executortest.Reply{Response: "I could not open the issue"}).
		On(promptCompetition, executortest.Reply{Response: map[string]any{"competing_count": 0}}).
		On(promptPlan, executortest.Reply{Response: map[string]any{"files_to_modify": "cache.go"}})
	f := newFixture(t, exec, PolicyProceed)
	f.start(t, "b-7")

	_, err := f.engine.Run(ctx, "b-7")
	require.NoError(t, err)

	cp, err := f.store.Get(ctx, "b-7")
	require.NoError(t, err)
	assert.JSONEq(t, `"I could not open the issue"`, string(cp.State.Analysis.Raw))
	assert.JSONEq(t, `{"files_to_modify":"cache.go"}`, string(cp.State.Plan.Raw))
	assert.Len(t, cp.State.Warnings, 2)
}

func TestEngine_RunEdgeCases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedExecutor(), PolicyProceed)

	_, err := f.engine.Run(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.start(t, "b-8")
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.engine.Run(canceled, "b-8")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.exec.Calls())

	inst := domain.NewInstance("b-9", "u", "octo/widgets", "k", "s", time.Now().UTC())
	inst, err = inst.Finish(domain.OutcomeSkipped, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx, "b-9", inst, domain.NodeNone))
	res, err := f.engine.Run(ctx, "b-9")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Empty(t, f.exec.Calls())
}
