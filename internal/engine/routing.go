package engine

import (
	"fmt"

	"bounty-orchestrator/internal/domain"
)

// CompetitionPolicy decides the route when competition data is absent or
// malformed.
type CompetitionPolicy string

const (
	PolicyProceed CompetitionPolicy = "proceed"
	PolicySkip    CompetitionPolicy = "skip"
)

// ParsePolicy maps a configured policy name; empty means PolicyProceed.
func ParsePolicy(s string) (CompetitionPolicy, error) {
	switch CompetitionPolicy(s) {
	case "", PolicyProceed:
		return PolicyProceed, nil
	case PolicySkip:
		return PolicySkip, nil
	}
	return "", fmt.Errorf("unknown competition policy %q", s)
}

// Route is the label a routing predicate picks.
type Route string

const (
	RouteContinue Route = "continue"
	RouteSkip     Route = "skip"
	RouteExecute  Route = "execute"
	RouteRejected Route = "rejected"
)

// ShouldProceed routes after check_competition: continue only when nobody
// else is on the issue and the recommendation is not skip.
func ShouldProceed(inst domain.Instance, policy CompetitionPolicy) Route {
	c := inst.Competition
	if c == nil {
		if policy == PolicySkip {
			return RouteSkip
		}
		return RouteContinue
	}
	if c.CompetingCount == 0 && c.Recommendation != domain.RecommendSkip {
		return RouteContinue
	}
	return RouteSkip
}

// IsApproved routes after approval_gate.
func IsApproved(inst domain.Instance) Route {
	if inst.Approved {
		return RouteExecute
	}
	return RouteRejected
}

// awaitingDecision reports whether an instance at approval_gate has neither
// been approved nor rejected yet.
func awaitingDecision(inst domain.Instance) bool {
	return inst.Phase == domain.PhasePlanned && !inst.Approved && inst.Outcome == ""
}
