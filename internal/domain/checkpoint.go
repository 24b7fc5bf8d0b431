package domain

import (
	"fmt"
	"time"
)

// Node identifies a step of the workflow graph.
type Node string

const (
	NodeAnalyze          Node = "analyze"
	NodeCheckCompetition Node = "check_competition"
	NodeCreatePlan       Node = "create_plan"
	NodeApprovalGate     Node = "approval_gate"
	NodeExecute          Node = "execute"

	// NodeNone marks a checkpoint with nothing left to run.
	NodeNone Node = ""
)

// Checkpoint is the durable snapshot of an instance plus the next pending node.
type Checkpoint struct {
	InstanceID string    `json:"instance_id"`
	State      Instance  `json:"state"`
	NextNode   Node      `json:"next_node"`
	Version    int       `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsComplete reports whether no node is pending.
func (c Checkpoint) IsComplete() bool {
	return c.NextNode == NodeNone
}

// PendingNode returns the next node name, or "complete".
func (c Checkpoint) PendingNode() string {
	if c.IsComplete() {
		return "complete"
	}
	return string(c.NextNode)
}

// CheckpointPatch lists the fields an external actor may change on a stored
// snapshot. Nil fields are left untouched.
type CheckpointPatch struct {
	Approved *bool
	Phase    *Phase
	Outcome  *Outcome
	NextNode *Node
}

// Apply merges p into c. Phase changes must move forward and approval cannot
// change once the instance reached phase E.
func (p CheckpointPatch) Apply(c Checkpoint, now time.Time) (Checkpoint, error) {
	state := c.State
	if p.Approved != nil && *p.Approved != state.Approved {
		if !state.Phase.Before(PhaseExecuted) {
			return c, ErrApprovalLocked
		}
		state.Approved = *p.Approved
	}
	if p.Phase != nil {
		next, err := state.advance(*p.Phase, now)
		if err != nil {
			return c, err
		}
		state = next
	}
	if p.Outcome != nil {
		state.Outcome = *p.Outcome
	}
	state.UpdatedAt = now

	out := c
	out.State = state
	if p.NextNode != nil {
		out.NextNode = *p.NextNode
	}
	out.UpdatedAt = now
	return out, nil
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}

// String implements fmt.Stringer for log output.
func (c Checkpoint) String() string {
	return fmt.Sprintf("checkpoint(%s phase=%s next=%s v%d)", c.InstanceID, c.State.Phase, c.PendingNode(), c.Version)
}
