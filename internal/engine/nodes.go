package engine

import (
	"context"
	"fmt"
	"log/slog"

	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/prompt"
)

// analyze gathers the repo profile and past lessons, then asks the executor
// to analyze the issue. Missing enrichment only adds warnings.
func (e *Engine) analyze(ctx context.Context, inst domain.Instance, log *slog.Logger) (step, error) {
	var warnings []string

	var profile *domain.RepoProfile
	if e.profiles != nil {
		p, err := e.profiles.EnsureProfile(ctx, inst.TargetID)
		if err != nil {
			if p != nil {
				warnings = append(warnings, warn(log, "repo profile sync failed, using stale profile", err))
			} else {
				warnings = append(warnings, warn(log, "repo profile unavailable", err))
			}
		}
		profile = p
	}

	var lessons []string
	if e.lessons != nil {
		l, err := e.lessons.PastLessons(ctx, inst.TargetID, pastLessonLimit)
		if err != nil {
			warnings = append(warnings, warn(log, "past lessons unavailable", err))
		}
		lessons = l
	}

	text, err := e.prompts.Analyze(prompt.AnalyzeData{Target: target(inst), Lessons: lessons})
	if err != nil {
		return step{}, err
	}
	reqCtx := map[string]any{"bounty_id": inst.ID}
	if profile != nil {
		reqCtx["repo_profile"] = profile
	}
	res, err := e.call(ctx, inst, text, reqCtx)
	if err != nil {
		return step{}, err
	}

	analysis, err := e.schemas.Analysis(res.Response)
	if err != nil {
		warnings = append(warnings, warn(log, "analysis kept as raw payload", err))
	}
	next, err := inst.Analyzed(analysis, profile, warnings, e.now())
	if err != nil {
		return step{}, err
	}
	return step{inst: next, next: domain.NodeCheckCompetition}, nil
}

func (e *Engine) checkCompetition(ctx context.Context, inst domain.Instance, log *slog.Logger) (step, error) {
	text, err := e.prompts.Competition(target(inst))
	if err != nil {
		return step{}, err
	}
	res, err := e.call(ctx, inst, text, map[string]any{"bounty_id": inst.ID})
	if err != nil {
		return step{}, err
	}

	var warnings []string
	competition, err := e.schemas.Competition(res.Response)
	if err != nil {
		warnings = append(warnings, warn(log, fmt.Sprintf("competition data unusable, policy %s applies", e.policy), err))
	}
	next, err := inst.CompetitionChecked(competition, warnings, e.now())
	if err != nil {
		return step{}, err
	}

	if ShouldProceed(next, e.policy) == RouteSkip {
		log.Info("skipping bounty", "competition", competition)
		return step{inst: next, finish: domain.OutcomeSkipped}, nil
	}
	return step{inst: next, next: domain.NodeCreatePlan}, nil
}

func (e *Engine) createPlan(ctx context.Context, inst domain.Instance, log *slog.Logger) (step, error) {
	analysis := analysisPayload(inst)
	text, err := e.prompts.Plan(prompt.PlanData{Target: target(inst), Analysis: analysis})
	if err != nil {
		return step{}, err
	}
	res, err := e.call(ctx, inst, text, map[string]any{
		"bounty_id":     inst.ID,
		"issue_details": analysis,
		"repo_profile":  inst.TargetProfile,
	})
	if err != nil {
		return step{}, err
	}

	var warnings []string
	plan, err := e.schemas.Plan(res.Response)
	if err != nil {
		warnings = append(warnings, warn(log, "plan kept as raw payload", err))
	}
	next, err := inst.Planned(plan, warnings, e.now())
	if err != nil {
		return step{}, err
	}
	return step{inst: next, next: domain.NodeApprovalGate}, nil
}

// approvalGate only runs once a decision exists; undecided instances are
// parked by the run loop before reaching it.
func (e *Engine) approvalGate(_ context.Context, inst domain.Instance, log *slog.Logger) (step, error) {
	if IsApproved(inst) == RouteRejected {
		log.Info("plan rejected")
		return step{inst: inst, finish: domain.OutcomeRejected}, nil
	}
	if inst.Phase == domain.PhasePlanned {
		approved, err := inst.Approve(e.now())
		if err != nil {
			return step{}, err
		}
		inst = approved
	}
	log.Info("plan approved")
	return step{inst: inst, next: domain.NodeExecute}, nil
}

func (e *Engine) execute(ctx context.Context, inst domain.Instance, log *slog.Logger) (step, error) {
	var warnings []string
	profile := inst.TargetProfile

	var gotchas []string
	if e.lessons != nil {
		g, err := e.lessons.RepoGotchas(ctx, inst.TargetKey, inst.TargetID)
		if err != nil {
			warnings = append(warnings, warn(log, "repo gotchas unavailable", err))
		}
		gotchas = g
	}
	if gotchas == nil && profile != nil {
		gotchas = profile.Gotchas
	}

	data := prompt.ExecuteData{
		Target:      target(inst),
		Plan:        planPayload(inst),
		LintCommand: profile.Command("lint"),
		TestCommand: profile.Command("test"),
		Gotchas:     gotchas,
	}
	if inst.Analysis != nil {
		data.Guidelines = inst.Analysis.Guidelines
	}
	if profile != nil {
		data.StyleRules = profile.StyleRules
	}
	text, err := e.prompts.Execute(data)
	if err != nil {
		return step{}, err
	}
	res, err := e.call(ctx, inst, text, map[string]any{
		"bounty_id":      inst.ID,
		"plan":           data.Plan,
		"human_approved": true,
		"repo_profile":   profile,
	})
	if err != nil {
		return step{}, err
	}

	result, err := e.schemas.Execution(res.Response)
	if err != nil {
		warnings = append(warnings, warn(log, "execution result kept as raw payload", err))
	}
	next, err := inst.Executed(result, warnings, e.now())
	if err != nil {
		return step{}, err
	}
	return step{inst: next, finish: domain.OutcomeSubmitted}, nil
}

func (e *Engine) call(ctx context.Context, inst domain.Instance, text string, reqCtx map[string]any) (domain.ExecResult, error) {
	return e.executor.Execute(ctx, domain.ExecRequest{
		Prompt:    text,
		Context:   reqCtx,
		SessionID: inst.SessionID,
	})
}

func target(inst domain.Instance) prompt.Target {
	return prompt.Target{IssueURL: inst.SourceReference, Repo: inst.TargetID}
}

// analysisPayload prefers the raw upstream payload when it did not match the
// schema, so the executor sees what it produced.
func analysisPayload(inst domain.Instance) any {
	switch {
	case inst.Analysis == nil:
		return map[string]any{}
	case len(inst.Analysis.Raw) > 0:
		return inst.Analysis.Raw
	}
	return inst.Analysis
}

func planPayload(inst domain.Instance) any {
	switch {
	case inst.Plan == nil:
		return map[string]any{}
	case len(inst.Plan.Raw) > 0:
		return inst.Plan.Raw
	}
	return inst.Plan
}

func warn(log *slog.Logger, msg string, err error) string {
	log.Warn(msg, "error", err)
	return fmt.Sprintf("%s: %v", msg, err)
}
