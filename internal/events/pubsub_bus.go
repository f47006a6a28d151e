package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus fans every event out to local subscribers and publishes it to a
// Cloud Pub/Sub topic for durable, at-least-once delivery to consumers
// outside the process (audit pipelines, dashboards).
type PubSubBus struct {
	*LocalBus

	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubBus connects to projectID and creates topicID when missing.
func NewPubSubBus(ctx context.Context, projectID, topicID string) (*PubSubBus, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("created pub/sub topic", "topic", topicID)
	}

	// One action's events stay ordered.
	topic.EnableMessageOrdering = true

	slog.Info("connected to pub/sub", "project", projectID, "topic", topicID)
	return &PubSubBus{LocalBus: NewLocalBus(), client: client, topic: topic}, nil
}

// Publish delivers locally, then hands the event to Pub/Sub. The publish
// result is checked in the background.
func (b *PubSubBus) Publish(ctx context.Context, event *Event) error {
	if err := b.LocalBus.Publish(ctx, event); err != nil {
		return err
	}

	msg, err := pubsubMessage(event)
	if err != nil {
		return err
	}
	result := b.topic.Publish(context.WithoutCancel(ctx), msg)
	go func() {
		id, err := result.Get(context.Background())
		if err != nil {
			slog.Error("pub/sub publish failed", "event_id", event.ID, "type", event.Type, "error", err)
			b.topic.ResumePublish(msg.OrderingKey)
			return
		}
		slog.Debug("published event", "event_id", event.ID, "message_id", id, "type", event.Type)
	}()
	return nil
}

func pubsubMessage(event *Event) (*pubsub.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	return &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-type":   string(event.Type),
			"ce-source": event.Source,
			"ce-id":     event.ID,
			"ce-time":   event.Timestamp.Format(time.RFC3339Nano),
		},
		OrderingKey: event.ActionID,
	}, nil
}

func (b *PubSubBus) Close() error {
	b.topic.Stop()
	_ = b.LocalBus.Close()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}

var _ Bus = (*PubSubBus)(nil)
