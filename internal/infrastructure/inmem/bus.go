package inmem

import (
	"context"
	"sync"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

// Bus fans every published event out to all current subscribers. Publish
// waits for each subscriber to take the event and returns
// ports.ErrNoSubscribers when nobody did.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan domain.InstanceEvent
	done chan struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

func (b *Bus) Publish(ctx context.Context, event domain.InstanceEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for s := range b.subs {
		select {
		case s.ch <- event:
			delivered++
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delivered == 0 {
		return ports.ErrNoSubscribers
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done; the returned channel
// is closed afterwards.
func (b *Bus) Subscribe(ctx context.Context) (<-chan domain.InstanceEvent, error) {
	s := &subscriber{
		ch:   make(chan domain.InstanceEvent, 16),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(s.done)

		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}()
	return s.ch, nil
}

// Subscribers reports the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
