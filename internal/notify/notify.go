// Package notify broadcasts timer state changes to per-user channels. Delivery
// is best-effort: a failed publish never rolls back the durable mutation that
// preceded it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventTimerStarted = "TIMER_STARTED"
	EventTimerPaused  = "TIMER_PAUSED"
	EventTimerStopped = "TIMER_STOPPED"
)

// Event is the payload delivered to a user's observers.
type Event struct {
	Type           string    `json:"type"`
	TaskID         string    `json:"taskId"`
	StartedAt      time.Time `json:"startedAt,omitempty"`
	WorkedSeconds  int       `json:"workedSeconds,omitempty"`
	AllocatedHours float64   `json:"allocatedHours,omitempty"`
	ConsumedHours  float64   `json:"consumedHours,omitempty"`
	RemainingHours float64   `json:"remainingHours,omitempty"`
}

// Broker publishes and subscribes timer events over Redis pub/sub, one channel
// per user.
type Broker struct {
	client *redis.Client
	prefix string
}

func NewBroker(redisURL string) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Broker{client: client, prefix: "tempo:events:"}, nil
}

func NewBrokerWithClient(client *redis.Client) *Broker {
	return &Broker{client: client, prefix: "tempo:events:"}
}

func (b *Broker) channel(userID string) string {
	return b.prefix + userID
}

// Publish sends the event to the user's channel.
func (b *Broker) Publish(ctx context.Context, userID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscription is one observer's feed of a user's timer events.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
}

// Subscribe opens a feed for the user's events. The feed closes when ctx is
// cancelled or Close is called; malformed payloads are dropped.
func (b *Broker) Subscribe(ctx context.Context, userID string) *Subscription {
	pubsub := b.client.Subscribe(ctx, b.channel(userID))
	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan Event, 16),
	}

	go func() {
		defer close(sub.events)
		for message := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
				continue
			}
			select {
			case sub.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
