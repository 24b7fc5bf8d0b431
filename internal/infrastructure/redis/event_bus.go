package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

const defaultEventChannel = "bounty:events:instance"

type RedisEventBus struct {
	client  *redis.Client
	channel string
}

func NewRedisEventBus(client *redis.Client) *RedisEventBus {
	return &RedisEventBus{
		client:  client,
		channel: defaultEventChannel,
	}
}

// Publish broadcasts the event to the network. Redis reports how many
// subscribers received it; zero yields ports.ErrNoSubscribers.
func (b *RedisEventBus) Publish(ctx context.Context, event domain.InstanceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	n, err := b.client.Publish(ctx, b.channel, payload).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNoSubscribers
	}
	return nil
}

// Subscribe opens a continuous stream for the Coordinator. The subscription
// is confirmed before returning, so events published afterwards are
// delivered. Undecodable messages are dropped.
func (b *RedisEventBus) Subscribe(ctx context.Context) (<-chan domain.InstanceEvent, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	msgChan := make(chan domain.InstanceEvent)

	// Forward redis messages to our Go channel until shutdown
	go func() {
		defer close(msgChan)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event domain.InstanceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case msgChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return msgChan, nil
}
