package domain

import (
	"fmt"
	"slices"
	"time"
)

// Phase marks progress through the bounty workflow. Phases are totally ordered
// A < B < C < D < E < F and an instance never moves backwards.
type Phase string

const (
	PhaseAnalyzing Phase = "A"
	PhaseAnalyzed  Phase = "B"
	PhasePlanned   Phase = "C" // awaiting approval
	PhaseApproved  Phase = "D"
	PhaseExecuted  Phase = "E"
	PhaseTerminal  Phase = "F" // any outcome
)

var phaseRank = map[Phase]int{
	PhaseAnalyzing: 0,
	PhaseAnalyzed:  1,
	PhasePlanned:   2,
	PhaseApproved:  3,
	PhaseExecuted:  4,
	PhaseTerminal:  5,
}

// Valid reports whether p is one of the six known phases.
func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

// Rank returns the position of p in the phase order, or -1 for unknown phases.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

// Before reports whether p strictly precedes other.
func (p Phase) Before(other Phase) bool {
	return p.Rank() < other.Rank()
}

// Outcome is the final disposition of an instance.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMerged    Outcome = "merged"
	OutcomeStale     Outcome = "stale"
	OutcomeAbandoned Outcome = "abandoned"
)

// IsReported reports whether o is an outcome that can be reported after
// submission (merged, rejected, stale, abandoned).
func (o Outcome) IsReported() bool {
	switch o {
	case OutcomeMerged, OutcomeRejected, OutcomeStale, OutcomeAbandoned:
		return true
	}
	return false
}

// PhaseChange records a single phase advance.
type PhaseChange struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// Instance is the state of one tracked bounty opportunity. It is owned by the
// engine while a node runs and by the checkpoint store between steps.
//
// Fields are changed through the transition methods below, each of which
// returns a copy with only its documented fields updated.
type Instance struct {
	ID              string `json:"instance_id"`
	SourceReference string `json:"source_reference"`
	TargetID        string `json:"target_id"`
	TargetKey       string `json:"target_key"`

	Analysis        *Analysis            `json:"analysis,omitempty"`
	Competition     *CompetitionAnalysis `json:"competition_analysis,omitempty"`
	Plan            *Plan                `json:"plan,omitempty"`
	ExecutionResult *ExecutionResult     `json:"execution_result,omitempty"`

	Phase    Phase   `json:"phase"`
	Approved bool    `json:"approved"`
	Outcome  Outcome `json:"outcome,omitempty"`

	SessionID     string       `json:"session_id"`
	TargetProfile *RepoProfile `json:"target_profile,omitempty"`

	// Warnings lists enrichment steps that failed and were skipped.
	Warnings []string      `json:"warnings,omitempty"`
	History  []PhaseChange `json:"history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewInstance creates an instance in phase A.
func NewInstance(id, sourceRef, targetID, targetKey, sessionID string, now time.Time) Instance {
	return Instance{
		ID:              id,
		SourceReference: sourceRef,
		TargetID:        targetID,
		TargetKey:       targetKey,
		Phase:           PhaseAnalyzing,
		SessionID:       sessionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsFinished reports whether the instance reached the terminal phase.
func (w Instance) IsFinished() bool {
	return w.Phase == PhaseTerminal
}

// Analyzed stores the analysis result and the profile snapshot used for it and
// moves A -> B.
func (w Instance) Analyzed(a Analysis, profile *RepoProfile, warnings []string, now time.Time) (Instance, error) {
	if err := w.require(PhaseAnalyzing); err != nil {
		return w, err
	}
	next, err := w.advance(PhaseAnalyzed, now)
	if err != nil {
		return w, err
	}
	next.Analysis = &a
	next.TargetProfile = profile
	next.Warnings = appendWarnings(w.Warnings, warnings)
	return next, nil
}

// CompetitionChecked stores the competition analysis. A nil analysis records
// that the data was absent or malformed. The phase stays at B.
func (w Instance) CompetitionChecked(c *CompetitionAnalysis, warnings []string, now time.Time) (Instance, error) {
	if err := w.require(PhaseAnalyzed); err != nil {
		return w, err
	}
	next := w
	next.Competition = c
	next.Warnings = appendWarnings(w.Warnings, warnings)
	next.UpdatedAt = now
	return next, nil
}

// Planned stores the implementation plan and moves B -> C.
func (w Instance) Planned(p Plan, warnings []string, now time.Time) (Instance, error) {
	if err := w.require(PhaseAnalyzed); err != nil {
		return w, err
	}
	next, err := w.advance(PhasePlanned, now)
	if err != nil {
		return w, err
	}
	next.Plan = &p
	next.Warnings = appendWarnings(w.Warnings, warnings)
	return next, nil
}

// Approve records human approval and moves C -> D.
func (w Instance) Approve(now time.Time) (Instance, error) {
	if err := w.require(PhasePlanned); err != nil {
		return w, err
	}
	next, err := w.advance(PhaseApproved, now)
	if err != nil {
		return w, err
	}
	next.Approved = true
	return next, nil
}

// Reject records a human rejection and ends the workflow.
func (w Instance) Reject(now time.Time) (Instance, error) {
	if !w.Phase.Before(PhaseExecuted) {
		return w, ErrApprovalLocked
	}
	next, err := w.advance(PhaseTerminal, now)
	if err != nil {
		return w, err
	}
	next.Approved = false
	next.Outcome = OutcomeRejected
	return next, nil
}

// Executing moves an approved instance D -> E before the executor is called.
func (w Instance) Executing(now time.Time) (Instance, error) {
	if err := w.require(PhaseApproved); err != nil {
		return w, err
	}
	if !w.Approved {
		return w, fmt.Errorf("%w: execute requires approval", ErrInvalidTransition)
	}
	return w.advance(PhaseExecuted, now)
}

// Executed stores the execution result. The instance must be approved and in
// phase D or already in E.
func (w Instance) Executed(r ExecutionResult, warnings []string, now time.Time) (Instance, error) {
	if w.Phase != PhaseExecuted {
		if err := w.require(PhaseApproved); err != nil {
			return w, err
		}
	}
	if !w.Approved {
		return w, fmt.Errorf("%w: execute requires approval", ErrInvalidTransition)
	}
	next, err := w.advance(PhaseExecuted, now)
	if err != nil {
		return w, err
	}
	next.ExecutionResult = &r
	next.Warnings = appendWarnings(w.Warnings, warnings)
	return next, nil
}

// Finish moves the instance to the terminal phase. An outcome already set
// (for example by a rejection) is kept.
func (w Instance) Finish(outcome Outcome, now time.Time) (Instance, error) {
	next, err := w.advance(PhaseTerminal, now)
	if err != nil {
		return w, err
	}
	if next.Outcome == "" {
		next.Outcome = outcome
	}
	return next, nil
}

// WithOutcome records a reported outcome and moves the instance to terminal.
func (w Instance) WithOutcome(outcome Outcome, now time.Time) (Instance, error) {
	next, err := w.advance(PhaseTerminal, now)
	if err != nil {
		return w, err
	}
	next.Outcome = outcome
	return next, nil
}

func (w Instance) require(p Phase) error {
	if w.Phase != p {
		return fmt.Errorf("%w: instance %s is in phase %s, want %s", ErrInvalidTransition, w.ID, w.Phase, p)
	}
	return nil
}

// advance returns a copy moved to phase to, recording the change. Moving to
// the current phase is a no-op on the history.
func (w Instance) advance(to Phase, now time.Time) (Instance, error) {
	if !to.Valid() {
		return w, fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, to)
	}
	if to.Before(w.Phase) {
		return w, fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, w.Phase, to)
	}
	next := w
	next.UpdatedAt = now
	if to != w.Phase {
		next.History = append(slices.Clip(w.History), PhaseChange{From: w.Phase, To: to, At: now})
		next.Phase = to
	}
	return next, nil
}

func appendWarnings(existing, added []string) []string {
	if len(added) == 0 {
		return existing
	}
	return append(slices.Clip(existing), added...)
}
