package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
)

// eventClaimTTL keeps an event claimed long after every subscriber saw it.
const eventClaimTTL = 10 * time.Minute

// Coordinator turns instance events into run jobs. Approval and resume
// requests are published by the API process; any worker process may pick the
// resulting job up. Every coordinator receives every event, so the one that
// claims the event id queues the job and the others drop it.
type Coordinator struct {
	queue    ports.RunQueue
	eventBus ports.EventBus
	locker   ports.Locker
	log      *slog.Logger
}

func NewCoordinator(queue ports.RunQueue, bus ports.EventBus, locker ports.Locker, log *slog.Logger) *Coordinator {
	return &Coordinator{
		queue:    queue,
		eventBus: bus,
		locker:   locker,
		log:      logging.OrNop(log).With("component", "coordinator"),
	}
}

// Start subscribes and handles events until ctx is done. Call this in
// main.go as a goroutine.
func (c *Coordinator) Start(ctx context.Context) error {
	// Subscribe returns a Go channel that receives bus messages
	events, err := c.eventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to event bus: %w", err)
	}
	c.log.Info("coordinator started, listening for events")

	for {
		select {
		case <-ctx.Done():
			c.log.Info("coordinator shutting down")
			return nil

		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("event subscription closed")
			}
			c.handle(ctx, event)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, event domain.InstanceEvent) {
	log := c.log.With("instance_id", event.InstanceID, "type", event.Type)

	switch {
	case event.TriggersRun():
		if !c.claim(ctx, event, log) {
			return
		}
		// The Kickoff: the instance can make progress again
		if err := c.queue.Push(ctx, domain.NewRunJob(event.InstanceID)); err != nil {
			log.Error("failed to queue run job", "error", err)
			return
		}
		log.Info("run job queued")
	case event.Type == domain.EventSuspended:
		log.Info("instance awaiting approval", "phase", event.Phase)
	case event.Type == domain.EventCompleted:
		log.Info("instance completed", "outcome", event.Outcome)
	default:
		log.Debug("event ignored", "phase", event.Phase, "next_node", event.NextNode)
	}
}

// claim reports whether this coordinator owns event. Events without an id
// cannot be told apart and are always handled.
func (c *Coordinator) claim(ctx context.Context, event domain.InstanceEvent, log *slog.Logger) bool {
	if event.ID == "" {
		return true
	}
	_, ok, err := c.locker.TryLock(ctx, "event:"+event.ID, eventClaimTTL)
	if err != nil {
		log.Error("failed to claim event", "event_id", event.ID, "error", err)
		return false
	}
	if !ok {
		log.Debug("event handled by another coordinator", "event_id", event.ID)
	}
	return ok
}
