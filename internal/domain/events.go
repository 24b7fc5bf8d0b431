package domain

import (
	"time"
)

type InstanceEventType string

const (
	// EventCheckpointed is published after every committed step.
	EventCheckpointed InstanceEventType = "checkpointed"
	// EventSuspended is published when an instance parks at the approval gate.
	EventSuspended InstanceEventType = "suspended"
	// EventCompleted is published when an instance reaches the terminal phase.
	EventCompleted InstanceEventType = "completed"
	// EventApprovalRecorded is published by the approve action; the coordinator
	// turns it into a run job.
	EventApprovalRecorded InstanceEventType = "approval_recorded"
	// EventResumeRequested asks for a failed run to be retried.
	EventResumeRequested InstanceEventType = "resume_requested"
)

// InstanceEvent is broadcast on the event bus. ID is unique per publish so
// subscribers that all receive the event can agree on a single handler.
type InstanceEvent struct {
	ID         string            `json:"id"`
	Type       InstanceEventType `json:"type"`
	InstanceID string            `json:"instance_id"`
	Phase      Phase             `json:"phase"`
	NextNode   Node              `json:"next_node"`
	Outcome    Outcome           `json:"outcome,omitempty"`
	At         time.Time         `json:"at"`
}

// TriggersRun reports whether the event should schedule a run job.
func (e InstanceEvent) TriggersRun() bool {
	return e.Type == EventApprovalRecorded || e.Type == EventResumeRequested
}
