// Package broker holds actions between submission and a reviewer's
// decision. Submission never blocks; each action is resolved to accepted or
// rejected exactly once, in whatever order the reviewer chooses.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/reva/bridge/internal/action"
	"github.com/reva/bridge/internal/events"
	"github.com/reva/bridge/internal/journal"
	"github.com/reva/bridge/internal/metrics"
)

const (
	eventSource   = "broker"
	outboxSize    = 1024
	unknownPerson = "unknown"
)

// NotFoundError means the id is not pending: it never existed or was
// already resolved.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("action %s not found", e.ID)
}

// ApplyError is returned by Accept when the reviewer accepted the action
// but its mutation failed. The action is resolved either way.
type ApplyError struct {
	ID  string
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("action %s accepted but not applied: %v", e.ID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

type reviewerKey struct{}

// WithReviewer tags ctx with the person resolving actions.
func WithReviewer(ctx context.Context, reviewer string) context.Context {
	return context.WithValue(ctx, reviewerKey{}, reviewer)
}

// ReviewerFrom returns the reviewer set by WithReviewer.
func ReviewerFrom(ctx context.Context) string {
	if r, ok := ctx.Value(reviewerKey{}).(string); ok && r != "" {
		return r
	}
	return unknownPerson
}

type entry struct {
	action      *action.Action
	seq         uint64
	submittedAt time.Time
}

// Broker is the pending action set.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*entry
	seq     uint64

	bus     events.Bus
	journal journal.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	clock   func() time.Time

	outbox    chan *events.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Broker.
type Option func(*Broker)

func WithEventBus(bus events.Bus) Option      { return func(b *Broker) { b.bus = bus } }
func WithJournal(store journal.Store) Option  { return func(b *Broker) { b.journal = store } }
func WithMetrics(m *metrics.Metrics) Option   { return func(b *Broker) { b.metrics = m } }
func WithLogger(logger *slog.Logger) Option   { return func(b *Broker) { b.logger = logger } }
func WithClock(clock func() time.Time) Option { return func(b *Broker) { b.clock = clock } }

// New starts a broker. Call Close to stop its event publisher.
func New(opts ...Option) *Broker {
	b := &Broker{
		pending: make(map[string]*entry),
		bus:     events.Discard{},
		journal: journal.NewMemoryStore(),
		logger:  slog.Default(),
		clock:   time.Now,
		outbox:  make(chan *events.Event, outboxSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.publishLoop()
	return b
}

// Submit stores a and returns its id. It never waits on I/O.
func (b *Broker) Submit(a *action.Action) string {
	now := b.clock()

	b.mu.Lock()
	b.seq++
	e := &entry{action: a, seq: b.seq, submittedAt: now}
	b.pending[a.ID()] = e
	b.mu.Unlock()

	b.metrics.RecordSubmitted(a.Name())
	b.logger.Info("action submitted",
		"action_id", a.ID(), "name", a.Name(), "location", a.Location().String(), "seq", e.seq)
	b.emit(events.ActionSubmitted, e, map[string]interface{}{
		"description": a.Description(),
		"sequence":    e.seq,
	})
	return a.ID()
}

// ListPending returns pending actions in submission order.
func (b *Broker) ListPending() []action.Summary {
	b.mu.Lock()
	entries := make([]*entry, 0, len(b.pending))
	for _, e := range b.pending {
		entries = append(entries, e)
	}
	b.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]action.Summary, len(entries))
	for i, e := range entries {
		out[i] = e.action.Summarize(e.seq, e.submittedAt)
	}
	return out
}

// Get returns one pending action.
func (b *Broker) Get(id string) (action.Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.pending[id]
	if !ok {
		return action.Summary{}, &NotFoundError{ID: id}
	}
	return e.action.Summarize(e.seq, e.submittedAt), nil
}

// PendingCount returns the number of actions awaiting a decision.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Accept removes id from the pending set and runs its accepted-work on the
// caller's goroutine. A failed mutation comes back as *ApplyError.
func (b *Broker) Accept(ctx context.Context, id string) error {
	e, err := b.take(id)
	if err != nil {
		return err
	}

	applyErr := e.action.Accept()
	var already *action.AlreadyResolvedError
	if errors.As(applyErr, &already) {
		b.logger.Error("pending action was already resolved", "action_id", id, "state", already.State)
		return applyErr
	}

	if applyErr != nil {
		b.finish(ctx, e, journal.OutcomeFailed, applyErr.Error())
		return &ApplyError{ID: id, Err: applyErr}
	}
	b.finish(ctx, e, journal.OutcomeAccepted, "")
	return nil
}

// Reject removes id from the pending set and runs its rejected-work with
// reason.
func (b *Broker) Reject(ctx context.Context, id, reason string) error {
	e, err := b.take(id)
	if err != nil {
		return err
	}

	err = e.action.Reject(reason)
	var already *action.AlreadyResolvedError
	if errors.As(err, &already) {
		b.logger.Error("pending action was already resolved", "action_id", id, "state", already.State)
		return err
	}
	if err != nil {
		b.logger.Error("rejected-work failed", "action_id", id, "error", err)
	}
	b.finish(ctx, e, journal.OutcomeRejected, reason)
	return err
}

func (b *Broker) take(id string) (*entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.pending[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	delete(b.pending, id)
	return e, nil
}

func (b *Broker) finish(ctx context.Context, e *entry, outcome journal.Outcome, reason string) {
	a := e.action
	now := b.clock()
	reviewer := ReviewerFrom(ctx)

	d := journal.Decision{
		ActionID:    a.ID(),
		Name:        a.Name(),
		Description: a.Description(),
		Location:    a.Location().String(),
		Outcome:     outcome,
		Reason:      reason,
		Reviewer:    reviewer,
		SubmittedAt: e.submittedAt,
		ResolvedAt:  now,
	}
	if err := b.journal.Record(context.WithoutCancel(ctx), d); err != nil {
		b.logger.Error("failed to record decision", "action_id", a.ID(), "error", err)
	}

	b.metrics.RecordResolved(a.Name(), string(outcome), now.Sub(e.submittedAt))
	b.logger.Info("action resolved",
		"action_id", a.ID(), "name", a.Name(), "outcome", outcome, "reviewer", reviewer, "reason", reason)

	var t events.Type
	switch outcome {
	case journal.OutcomeAccepted:
		t = events.ActionAccepted
	case journal.OutcomeRejected:
		t = events.ActionRejected
	default:
		t = events.ActionFailed
	}
	b.emit(t, e, map[string]interface{}{"reviewer": reviewer, "reason": reason})
}

// emit queues an event without blocking. A full outbox drops the event.
func (b *Broker) emit(t events.Type, e *entry, payload map[string]interface{}) {
	payload["name"] = e.action.Name()
	payload["location"] = e.action.Location().String()
	ev := events.NewEvent(t, eventSource, e.action.ID(), payload)

	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.outbox <- ev:
	default:
		b.logger.Warn("event outbox full, dropping event", "type", t, "action_id", e.action.ID())
	}
}

func (b *Broker) publishLoop() {
	for {
		select {
		case ev := <-b.outbox:
			if err := b.bus.Publish(context.Background(), ev); err != nil {
				b.logger.Warn("event publish failed", "type", ev.Type, "action_id", ev.ActionID, "error", err)
			}
		case <-b.done:
			return
		}
	}
}

// Close stops the event publisher. Pending actions stay pending.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
