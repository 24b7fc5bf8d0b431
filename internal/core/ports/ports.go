package ports

import (
	"context"
	"errors"
	"time"

	"bounty-orchestrator/internal/domain"
)

// ErrQueueEmpty is returned by RunQueue.Pop when no job arrived in time.
var ErrQueueEmpty = errors.New("run queue empty")

// ErrNoSubscribers is returned by EventBus.Publish when nobody received the
// event.
var ErrNoSubscribers = errors.New("event bus has no subscribers")

// Executor is the external task-execution capability
type Executor interface {
	// Execute sends one prompt with context and a conversation session.
	// Failures are returned as *domain.ExecutionFailure.
	Execute(ctx context.Context, req domain.ExecRequest) (domain.ExecResult, error)
}

// MemoryStore represents the namespaced long-term memory operations
type MemoryStore interface {
	// Get returns domain.ErrNotFound for unknown keys
	Get(ctx context.Context, ns domain.Namespace, key string) (domain.Record, error)

	// Put overwrites the value stored under (ns, key)
	Put(ctx context.Context, ns domain.Namespace, key string, value []byte) error

	// List returns records of ns and its sub-namespaces
	List(ctx context.Context, ns domain.Namespace) ([]domain.Record, error)

	// Search ranks records of ns (and sub-namespaces) that carry embedding text,
	// most relevant first, at most limit results
	Search(ctx context.Context, ns domain.Namespace, query string, limit int) ([]domain.SearchResult, error)
}

// Embedder turns text into a vector for similarity search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CheckpointStore represents the per-instance snapshot operations
type CheckpointStore interface {
	// Put overwrites the snapshot and next node for the instance
	Put(ctx context.Context, instanceID string, snapshot domain.Instance, next domain.Node) error

	// Swap writes the snapshot only if the stored version is still version
	// and returns the new version. Otherwise it returns domain.ErrConflict.
	Swap(ctx context.Context, instanceID string, version int, snapshot domain.Instance, next domain.Node) (int, error)

	// Get returns domain.ErrNotFound for unknown instances
	Get(ctx context.Context, instanceID string) (domain.Checkpoint, error)

	// Update merges patch into the stored snapshot
	Update(ctx context.Context, instanceID string, patch domain.CheckpointPatch) (domain.Checkpoint, error)

	// List returns every stored checkpoint
	List(ctx context.Context) ([]domain.Checkpoint, error)
}

// RunQueue represents the job queue operations
type RunQueue interface {
	// Push a job to the end of the queue
	Push(ctx context.Context, job domain.Job) error

	// Wait (Block) until a job is available. Returns ErrQueueEmpty when the
	// wait timed out without a job.
	Pop(ctx context.Context) (domain.Job, error)
}

// EventBus represents the instance event broadcast operations
type EventBus interface {
	// Publish returns ErrNoSubscribers when the event reached nobody
	Publish(ctx context.Context, event domain.InstanceEvent) error

	// Subscribe to events (Used by Coordinator). The channel closes when ctx is done.
	Subscribe(ctx context.Context) (<-chan domain.InstanceEvent, error)
}

// Locker represents short-lived exclusive claims shared by every process
type Locker interface {
	// TryLock claims key for ttl. ok is false when another owner holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases key if token still owns it
	Unlock(ctx context.Context, key, token string) error
}
