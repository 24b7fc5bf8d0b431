package dto

import (
	"time"

	"bounty-orchestrator/internal/domain"
)

type StartBountyRequest struct {
	// InstanceID is generated when empty.
	InstanceID      string `json:"instance_id"`
	SourceReference string `json:"source_reference" binding:"required"`
	Target          string `json:"target" binding:"required"`
}

type OutcomeRequest struct {
	Outcome  domain.Outcome `json:"outcome" binding:"required"`
	Feedback string         `json:"feedback"`
}

type SyncRepoRequest struct {
	RepoURL string `json:"repo_url" binding:"required"`
}

type StartBountyResponse struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
	SessionID  string `json:"session_id"`
}

type StatusResponse struct {
	InstanceID  string          `json:"instance_id"`
	CurrentNode string          `json:"current_node"`
	Phase       domain.Phase    `json:"phase"`
	Approved    bool            `json:"approved"`
	Outcome     domain.Outcome  `json:"outcome,omitempty"`
	Version     int             `json:"version"`
	State       domain.Instance `json:"state"`
}

type ActionResponse struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
}

type BountySummary struct {
	InstanceID      string         `json:"instance_id"`
	SourceReference string         `json:"source_reference"`
	TargetID        string         `json:"target_id"`
	Phase           domain.Phase   `json:"phase"`
	CurrentNode     string         `json:"current_node"`
	Approved        bool           `json:"approved"`
	Outcome         domain.Outcome `json:"outcome,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type SyncRepoResponse struct {
	Status    string `json:"status"`
	TargetKey string `json:"target_key"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusOf builds the status view of a checkpoint.
func StatusOf(cp domain.Checkpoint) StatusResponse {
	return StatusResponse{
		InstanceID:  cp.InstanceID,
		CurrentNode: cp.PendingNode(),
		Phase:       cp.State.Phase,
		Approved:    cp.State.Approved,
		Outcome:     cp.State.Outcome,
		Version:     cp.Version,
		State:       cp.State,
	}
}

func SummaryOf(cp domain.Checkpoint) BountySummary {
	return BountySummary{
		InstanceID:      cp.InstanceID,
		SourceReference: cp.State.SourceReference,
		TargetID:        cp.State.TargetID,
		Phase:           cp.State.Phase,
		CurrentNode:     cp.PendingNode(),
		Approved:        cp.State.Approved,
		Outcome:         cp.State.Outcome,
		CreatedAt:       cp.State.CreatedAt,
		UpdatedAt:       cp.UpdatedAt,
	}
}
