package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
	"bounty-orchestrator/internal/memory"
	"bounty-orchestrator/internal/prompt"
)

// Recorder turns reported submission outcomes into learnings and closes the
// instance.
type Recorder struct {
	checkpoints ports.CheckpointStore
	memory      *memory.Manager
	executor    ports.Executor
	prompts     *prompt.Renderer
	log         *slog.Logger
}

func NewRecorder(checkpoints ports.CheckpointStore, mgr *memory.Manager, exec ports.Executor, prompts *prompt.Renderer, log *slog.Logger) *Recorder {
	return &Recorder{
		checkpoints: checkpoints,
		memory:      mgr,
		executor:    exec,
		prompts:     prompts,
		log:         logging.OrNop(log).With("component", "learning"),
	}
}

// RecordOutcome stores what happened to a submission:
//   - rejected with feedback: the executor condenses the feedback into a
//     lesson, kept as a rejection learning and added to the repo gotchas
//   - merged: the plan's approach is kept as a success learning
//   - stale, abandoned: nothing is learned
//
// In every case the checkpoint gets the outcome, phase F and no next node.
// If the lesson cannot be extracted nothing is written.
func (r *Recorder) RecordOutcome(ctx context.Context, instanceID string, outcome domain.Outcome, feedback string) (domain.Checkpoint, error) {
	if !outcome.IsReported() {
		return domain.Checkpoint{}, fmt.Errorf("%w: %q", domain.ErrInvalidOutcome, outcome)
	}
	cp, err := r.checkpoints.Get(ctx, instanceID)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	inst := cp.State
	log := r.log.With("instance_id", instanceID, "outcome", outcome)
	feedback = strings.TrimSpace(feedback)

	switch {
	case outcome == domain.OutcomeRejected && feedback != "":
		lesson, err := r.extractLesson(ctx, inst, feedback)
		if err != nil {
			return domain.Checkpoint{}, err
		}
		if _, err := r.memory.RecordLearning(ctx, domain.Learning{
			Category:     domain.CategoryRejections,
			InstanceID:   instanceID,
			Target:       inst.TargetID,
			WhatHappened: feedback,
			Lesson:       lesson,
		}); err != nil {
			return domain.Checkpoint{}, err
		}
		if err := r.addGotcha(ctx, inst.TargetKey, lesson); err != nil {
			log.Warn("could not add lesson to repo gotchas", "target_key", inst.TargetKey, "error", err)
		}

	case outcome == domain.OutcomeMerged:
		approach := ""
		if inst.Plan != nil {
			approach = inst.Plan.ApproachSummary
		}
		if _, err := r.memory.RecordLearning(ctx, domain.Learning{
			Category:     domain.CategorySuccesses,
			InstanceID:   instanceID,
			Target:       inst.TargetID,
			WhatHappened: "merged",
			Lesson:       approach,
		}); err != nil {
			return domain.Checkpoint{}, err
		}
	}

	updated, err := r.checkpoints.Update(ctx, instanceID, domain.CheckpointPatch{
		Outcome:  domain.Ptr(outcome),
		Phase:    domain.Ptr(domain.PhaseTerminal),
		NextNode: domain.Ptr(domain.NodeNone),
	})
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("record outcome %s: %w", instanceID, err)
	}
	log.Info("outcome recorded")
	return updated, nil
}

func (r *Recorder) extractLesson(ctx context.Context, inst domain.Instance, feedback string) (string, error) {
	text, err := r.prompts.Lesson(prompt.LessonData{Repo: inst.TargetID, Feedback: feedback})
	if err != nil {
		return "", err
	}
	res, err := r.executor.Execute(ctx, domain.ExecRequest{
		Prompt:    text,
		Context:   map[string]any{"bounty_id": inst.ID, "purpose": "extract_lesson"},
		SessionID: inst.SessionID,
	})
	if err != nil {
		return "", fmt.Errorf("extract lesson: %w", err)
	}
	lesson := strings.TrimSpace(lessonText(res))
	if lesson == "" {
		return feedback, nil
	}
	return lesson, nil
}

func (r *Recorder) addGotcha(ctx context.Context, key, lesson string) error {
	if key == "" {
		return nil
	}
	p, err := r.memory.RepoProfile(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !p.AddLearnedGotcha(lesson) {
		return nil
	}
	return r.memory.SaveRepoProfile(ctx, *p)
}

// lessonText accepts a plain string or an object with a "lesson" field.
func lessonText(res domain.ExecResult) string {
	if !res.IsObject() {
		return res.Text()
	}
	var obj struct {
		Lesson string `json:"lesson"`
	}
	if err := json.Unmarshal(res.Response, &obj); err != nil {
		return ""
	}
	return obj.Lesson
}
