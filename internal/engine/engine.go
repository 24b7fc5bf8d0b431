// Package engine drives a bounty instance through the workflow graph:
//
//	analyze -> check_competition -> create_plan -> approval_gate -> execute
//
// check_competition may end the run (skipped) and approval_gate suspends it
// until a human decision is recorded. The engine persists a checkpoint after
// every node so a run can be resumed from where it stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
	"bounty-orchestrator/internal/metrics"
	"bounty-orchestrator/internal/prompt"
	"bounty-orchestrator/internal/schema"
)

// ProfileSource returns the repository profile used to enrich prompts.
// A stale profile may be returned together with an error.
type ProfileSource interface {
	EnsureProfile(ctx context.Context, ref string) (*domain.RepoProfile, error)
}

// LessonSource returns experience recorded from earlier submissions.
type LessonSource interface {
	PastLessons(ctx context.Context, target string, limit int) ([]string, error)
	RepoGotchas(ctx context.Context, key, target string) ([]string, error)
}

// Deps are the collaborators of an Engine. Bus and Metrics may be nil.
type Deps struct {
	Checkpoints ports.CheckpointStore
	Executor    ports.Executor
	Profiles    ProfileSource
	Lessons     LessonSource
	Prompts     *prompt.Renderer
	Schemas     *schema.Validator
	Bus         ports.EventBus
	Metrics     *metrics.Metrics
}

// RunResult describes where a run stopped.
type RunResult struct {
	InstanceID string         `json:"instance_id"`
	Phase      domain.Phase   `json:"phase"`
	NextNode   domain.Node    `json:"next_node"`
	Outcome    domain.Outcome `json:"outcome,omitempty"`
	Suspended  bool           `json:"suspended"`
	Completed  bool           `json:"completed"`
}

// pastLessonLimit bounds the lessons injected into the analyze prompt.
const pastLessonLimit = 3

// step is what a node hands back to the run loop. A non-empty finish ends
// the workflow with that outcome.
type step struct {
	inst   domain.Instance
	next   domain.Node
	finish domain.Outcome
}

type nodeFunc func(ctx context.Context, inst domain.Instance, log *slog.Logger) (step, error)

type Engine struct {
	checkpoints ports.CheckpointStore
	executor    ports.Executor
	profiles    ProfileSource
	lessons     LessonSource
	prompts     *prompt.Renderer
	schemas     *schema.Validator
	bus         ports.EventBus
	metrics     *metrics.Metrics
	policy      CompetitionPolicy
	log         *slog.Logger
	now         func() time.Time

	nodes map[domain.Node]nodeFunc
}

func New(deps Deps, policy CompetitionPolicy, log *slog.Logger) *Engine {
	if policy == "" {
		policy = PolicyProceed
	}
	e := &Engine{
		checkpoints: deps.Checkpoints,
		executor:    deps.Executor,
		profiles:    deps.Profiles,
		lessons:     deps.Lessons,
		prompts:     deps.Prompts,
		schemas:     deps.Schemas,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		policy:      policy,
		log:         logging.OrNop(log).With("component", "engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	e.nodes = map[domain.Node]nodeFunc{
		domain.NodeAnalyze:          e.analyze,
		domain.NodeCheckCompetition: e.checkCompetition,
		domain.NodeCreatePlan:       e.createPlan,
		domain.NodeApprovalGate:     e.approvalGate,
		domain.NodeExecute:          e.execute,
	}
	return e
}

// Run loads the checkpoint of instanceID and drives nodes from its pending
// node until the instance suspends at approval_gate, completes, or a node
// fails. A failed node leaves the checkpoint untouched, so calling Run again
// retries that node. Every commit is conditional on the checkpoint version
// read before the node ran; if another writer changed it meanwhile the run
// stops with domain.ErrConflict and nothing is written.
func (e *Engine) Run(ctx context.Context, instanceID string) (RunResult, error) {
	cp, err := e.checkpoints.Get(ctx, instanceID)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %s: %w", instanceID, err)
	}
	inst, node, version := cp.State, cp.NextNode, cp.Version
	log := e.log.With("instance_id", instanceID, "session_id", inst.SessionID)

	for {
		if node == domain.NodeNone {
			return e.result(inst, node), nil
		}
		if err := ctx.Err(); err != nil {
			return e.result(inst, node), err
		}

		// 1. PARK: an undecided instance stays at the gate without changes
		if node == domain.NodeApprovalGate && awaitingDecision(inst) {
			log.Info("parked at approval gate", "phase", inst.Phase)
			e.metrics.Suspended()
			e.publish(ctx, domain.EventSuspended, inst, node)
			res := e.result(inst, node)
			res.Suspended = true
			return res, nil
		}

		// 2. ENTER: execution is recorded as phase E before the executor is called
		if node == domain.NodeExecute && inst.Phase == domain.PhaseApproved {
			entered, err := inst.Executing(e.now())
			if err != nil {
				return e.result(inst, node), fmt.Errorf("run %s: %w", instanceID, err)
			}
			if version, err = e.commit(ctx, instanceID, version, entered, node, log); err != nil {
				return e.result(inst, node), fmt.Errorf("run %s: checkpoint before %s: %w", instanceID, node, err)
			}
			inst = entered
			log.Info("execution started", "phase", inst.Phase)
			e.publish(ctx, domain.EventCheckpointed, inst, node)
		}

		// 3. EXECUTE: run the pending node
		fn, ok := e.nodes[node]
		if !ok {
			return e.result(inst, node), fmt.Errorf("run %s: unknown node %q", instanceID, node)
		}
		nodeLog := log.With("node", node)
		start := time.Now()
		out, err := fn(ctx, inst, nodeLog)
		if err != nil {
			e.metrics.ObserveNode(string(node), "error", time.Since(start))
			nodeLog.Error("node failed", "error", err, "retryable", domain.IsRetryable(err))
			return e.result(inst, node), fmt.Errorf("run %s: node %s: %w", instanceID, node, err)
		}
		e.metrics.ObserveNode(string(node), "ok", time.Since(start))

		// 4. FINISH: terminal edges close the instance
		if out.finish != "" {
			finished, err := out.inst.Finish(out.finish, e.now())
			if err != nil {
				return e.result(inst, node), fmt.Errorf("run %s: %w", instanceID, err)
			}
			out.inst, out.next = finished, domain.NodeNone
		}

		// 5. COMMIT: persist the snapshot together with the next node
		committed, err := e.commit(ctx, instanceID, version, out.inst, out.next, nodeLog)
		if err != nil {
			return e.result(inst, node), fmt.Errorf("run %s: checkpoint after %s: %w", instanceID, node, err)
		}
		inst, node, version = out.inst, out.next, committed
		nodeLog.Info("node committed", "phase", inst.Phase, "next", node)
		e.publish(ctx, domain.EventCheckpointed, inst, node)

		if node == domain.NodeNone {
			log.Info("workflow completed", "outcome", inst.Outcome)
			e.publish(ctx, domain.EventCompleted, inst, node)
		}
	}
}

// commit writes inst and next if the checkpoint is still at version and
// returns the new version.
func (e *Engine) commit(ctx context.Context, instanceID string, version int, inst domain.Instance, next domain.Node, log *slog.Logger) (int, error) {
	committed, err := e.checkpoints.Swap(ctx, instanceID, version, inst, next)
	if errors.Is(err, domain.ErrConflict) {
		log.Warn("checkpoint changed by another writer, dropping result", "version", version)
	}
	return committed, err
}

func (e *Engine) result(inst domain.Instance, node domain.Node) RunResult {
	return RunResult{
		InstanceID: inst.ID,
		Phase:      inst.Phase,
		NextNode:   node,
		Outcome:    inst.Outcome,
		Completed:  node == domain.NodeNone,
	}
}

// publish is best-effort; subscribers can always fall back to the checkpoint.
// An event nobody listens to is not worth a warning.
func (e *Engine) publish(ctx context.Context, typ domain.InstanceEventType, inst domain.Instance, node domain.Node) {
	if e.bus == nil {
		return
	}
	err := e.bus.Publish(ctx, domain.InstanceEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		InstanceID: inst.ID,
		Phase:      inst.Phase,
		NextNode:   node,
		Outcome:    inst.Outcome,
		At:         e.now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ports.ErrNoSubscribers) {
		e.log.Warn("failed to publish instance event", "instance_id", inst.ID, "type", typ, "error", err)
	}
}
