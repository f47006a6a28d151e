package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// PubSubClient is the slice of Redis the bus needs.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// RedisBus publishes every event on one Redis channel and delivers what it
// reads back from that channel to local subscribers, so reviewers attached
// to any replica see actions submitted on every other replica.
type RedisBus struct {
	mu      sync.Mutex
	client  PubSubClient
	channel string
	d       *dispatcher
	unsub   func()
	closed  bool
}

// NewRedisBus subscribes to channel and returns the bus. An empty channel
// defaults to "reva:actions".
func NewRedisBus(ctx context.Context, client PubSubClient, channel string) (*RedisBus, error) {
	if channel == "" {
		channel = "reva:actions"
	}
	b := &RedisBus{client: client, channel: channel, d: newDispatcher()}

	unsub, err := client.Subscribe(ctx, channel, b.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	b.unsub = unsub
	return b, nil
}

func (b *RedisBus) receive(data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Warn("discarding malformed event", "channel", b.channel, "error", err)
		return
	}
	b.d.deliver(context.Background(), &event)
}

// Publish writes the event to Redis. When Redis is unreachable the event is
// still delivered to local subscribers.
func (b *RedisBus) Publish(ctx context.Context, event *Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errors.New("event bus is closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data); err != nil {
		slog.Warn("redis publish failed, delivering locally", "type", event.Type, "error", err)
		b.d.deliver(context.WithoutCancel(ctx), event)
	}
	return nil
}

func (b *RedisBus) Subscribe(t Type, h Handler) func() {
	return b.d.subscribe(t, h)
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.unsub != nil {
		b.unsub()
	}
	b.d.close()
	return nil
}

var _ Bus = (*RedisBus)(nil)
