package worker

import (
	"context"
	"fmt"
	"log/slog"

	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/engine"
	"bounty-orchestrator/internal/logging"
)

// JobHandler is the blueprint for any function that does work
type JobHandler func(ctx context.Context, job domain.Job) error

// JobRegistry holds all our executable job kinds
type JobRegistry map[domain.JobKind]JobHandler

// WorkflowRunner drives one instance to its next suspend point.
type WorkflowRunner interface {
	Run(ctx context.Context, instanceID string) (engine.RunResult, error)
}

// RepoSyncer refreshes a repository profile.
type RepoSyncer interface {
	Sync(ctx context.Context, ref string) (string, error)
}

// InitRegistry wires up the actual business logic
func InitRegistry(runner WorkflowRunner, syncer RepoSyncer, log *slog.Logger) JobRegistry {
	log = logging.OrNop(log).With("component", "worker")
	registry := make(JobRegistry)

	registry[domain.JobRunWorkflow] = func(ctx context.Context, job domain.Job) error {
		if job.InstanceID == "" {
			return fmt.Errorf("%w: run job without instance id", domain.ErrInvalidInput)
		}
		res, err := runner.Run(ctx, job.InstanceID)
		if err != nil {
			return err
		}
		log.Info("run finished", "instance_id", job.InstanceID, "phase", res.Phase,
			"suspended", res.Suspended, "completed", res.Completed, "outcome", res.Outcome)
		return nil
	}

	registry[domain.JobSyncRepo] = func(ctx context.Context, job domain.Job) error {
		if job.TargetRef == "" {
			return fmt.Errorf("%w: sync job without target", domain.ErrInvalidInput)
		}
		_, err := syncer.Sync(ctx, job.TargetRef)
		return err
	}

	return registry
}
