// Package events distributes action lifecycle events to reviewers and
// downstream consumers. LocalBus delivers in-process, RedisBus spans
// replicas through Redis pub/sub, PubSubBus also writes every event to a
// Google Cloud Pub/Sub topic.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies lifecycle events.
type Type string

const (
	ActionSubmitted Type = "action.submitted"
	ActionAccepted  Type = "action.accepted"
	ActionRejected  Type = "action.rejected"
	ActionFailed    Type = "action.failed"

	// All subscribes to every event type.
	All Type = "*"
)

// Event is one lifecycle transition of an action.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Source    string                 `json:"source"`
	ActionID  string                 `json:"action_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t Type, source, actionID string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Source:    source,
		ActionID:  actionID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Handler processes one event.
type Handler func(ctx context.Context, event *Event) error

// Bus is a publish/subscribe channel for lifecycle events.
type Bus interface {
	// Publish hands the event to the bus. Delivery is asynchronous.
	Publish(ctx context.Context, event *Event) error

	// Subscribe registers h for events of type t (or All) and returns
	// the unsubscribe function.
	Subscribe(t Type, h Handler) (unsubscribe func())

	Close() error
}

// subscriberQueueSize bounds the events buffered for one slow subscriber.
const subscriberQueueSize = 1024

type delivery struct {
	ctx   context.Context
	event *Event
}

// subscriber owns a queue drained by a single goroutine, so it sees events
// in publish order.
type subscriber struct {
	id      int
	handler Handler
	queue   chan delivery
}

func (s *subscriber) run() {
	for d := range s.queue {
		if err := s.handler(d.ctx, d.event); err != nil {
			slog.Warn("event handler failed", "type", d.event.Type, "action_id", d.event.ActionID, "error", err)
		}
	}
}

// dispatcher holds local subscriptions. A slow subscriber fills its own
// queue and loses events; it never stalls the publisher or other
// subscribers.
type dispatcher struct {
	mu     sync.RWMutex
	subs   map[Type][]*subscriber
	nextID int
	closed bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{subs: make(map[Type][]*subscriber)}
}

func (d *dispatcher) subscribe(t Type, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return func() {}
	}
	d.nextID++
	s := &subscriber{id: d.nextID, handler: h, queue: make(chan delivery, subscriberQueueSize)}
	d.subs[t] = append(d.subs[t], s)
	go s.run()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.subs[t]
		for i, other := range subs {
			if other == s {
				d.subs[t] = append(subs[:i:i], subs[i+1:]...)
				close(s.queue)
				break
			}
		}
	}
}

// deliver enqueues event for every matching subscriber. Queues are only
// closed under the write lock, so sends under the read lock are safe.
func (d *dispatcher) deliver(ctx context.Context, event *Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	types := []Type{event.Type, All}
	if event.Type == All {
		types = types[:1]
	}
	for _, t := range types {
		for _, s := range d.subs[t] {
			select {
			case s.queue <- delivery{ctx: ctx, event: event}:
			default:
				slog.Warn("subscriber queue full, dropping event",
					"subscriber", s.id, "type", event.Type, "action_id", event.ActionID)
			}
		}
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, subs := range d.subs {
		for _, s := range subs {
			close(s.queue)
		}
	}
	d.subs = make(map[Type][]*subscriber)
}

func (d *dispatcher) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, subs := range d.subs {
		n += len(subs)
	}
	return n
}

// LocalBus is the in-memory Bus for single-replica deployments.
type LocalBus struct {
	d *dispatcher
}

func NewLocalBus() *LocalBus {
	return &LocalBus{d: newDispatcher()}
}

func (b *LocalBus) Publish(ctx context.Context, event *Event) error {
	b.d.deliver(context.WithoutCancel(ctx), event)
	return nil
}

func (b *LocalBus) Subscribe(t Type, h Handler) func() {
	return b.d.subscribe(t, h)
}

// SubscriberCount returns the number of active subscriptions.
func (b *LocalBus) SubscriberCount() int {
	return b.d.count()
}

func (b *LocalBus) Close() error {
	b.d.close()
	return nil
}

// Discard drops every event. It is the bus used when none is configured.
type Discard struct{}

func (Discard) Publish(context.Context, *Event) error { return nil }
func (Discard) Subscribe(Type, Handler) func()        { return func() {} }
func (Discard) Close() error                          { return nil }

var (
	_ Bus = (*LocalBus)(nil)
	_ Bus = Discard{}
)
