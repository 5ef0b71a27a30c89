package realtime

import (
	"context"
	"fmt"

	"neighborhood-resolver/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const Channel = "civic:changes"

// Broker fans change events out to every API instance over Redis pub/sub.
type Broker struct {
	client  *redis.Client
	channel string
}

func NewBroker(client *redis.Client) *Broker {
	return &Broker{client: client, channel: Channel}
}

func (b *Broker) Publish(ctx context.Context, event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.Publish: %w", err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed. The events channel is
// closed after unsubscribe is called or ctx is done.
func (b *Broker) Subscribe(ctx context.Context) (<-chan models.ChangeEvent, func() error, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.Subscribe: %w", err)
	}

	messages := sub.Channel()
	events := make(chan models.ChangeEvent)
	go func() {
		defer close(events)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				var event models.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warnf("realtime: dropping malformed event: %v", err)
					continue
				}

				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, sub.Close, nil
}
