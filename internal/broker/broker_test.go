package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reva/bridge/internal/action"
	"github.com/reva/bridge/internal/events"
	"github.com/reva/bridge/internal/journal"
	"github.com/reva/bridge/internal/metrics"
	"github.com/reva/bridge/internal/resource"
)

var testGateway = resource.NewHostGateway(resource.NewMemoryProgram("test", nil), nil)

type counts struct {
	accepted atomic.Int32
	rejected atomic.Int32
	reason   atomic.Value
}

func newAction(t *testing.T, name string, c *counts, applyErr error) *action.Action {
	t.Helper()
	a, err := action.NewBuilder().
		Gateway(testGateway).
		Location(resource.Location{Address: 0x401000, Symbol: "main"}).
		Name(name).
		Description(name + " description").
		OnAccepted(func() error { c.accepted.Add(1); return applyErr }).
		OnRejected(func(reason string) { c.rejected.Add(1); c.reason.Store(reason) }).
		Build()
	require.NoError(t, err)
	return a
}

func newBroker(t *testing.T, opts ...Option) *Broker {
	t.Helper()
	b := New(opts...)
	t.Cleanup(b.Close)
	return b
}

func TestSubmit_ListPendingInSubmissionOrder(t *testing.T) {
	b := newBroker(t)
	var c counts

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, b.Submit(newAction(t, fmt.Sprintf("a%d", i), &c, nil)))
	}

	pending := b.ListPending()
	require.Len(t, pending, 5)
	for i, s := range pending {
		assert.Equal(t, ids[i], s.ID)
		assert.Equal(t, uint64(i+1), s.Sequence)
	}

	require.NoError(t, b.Reject(context.Background(), ids[2], "no"))
	pending = b.ListPending()
	require.Len(t, pending, 4)
	assert.Equal(t, ids[3], pending[2].ID)
}

func TestAccept_RunsAcceptedWorkOnce(t *testing.T) {
	b := newBroker(t)
	var c counts
	id := b.Submit(newAction(t, "Comment", &c, nil))

	require.NoError(t, b.Accept(context.Background(), id))
	assert.Equal(t, int32(1), c.accepted.Load())
	assert.Equal(t, int32(0), c.rejected.Load())
	assert.Zero(t, b.PendingCount())
}

func TestReject_PassesReason(t *testing.T) {
	b := newBroker(t)
	var c counts
	id := b.Submit(newAction(t, "Comment", &c, nil))

	require.NoError(t, b.Reject(context.Background(), id, "not appropriate"))
	assert.Equal(t, int32(1), c.rejected.Load())
	assert.Equal(t, "not appropriate", c.reason.Load())
}

func TestResolve_UnknownOrResolvedIsNotFound(t *testing.T) {
	b := newBroker(t)
	var c counts
	id := b.Submit(newAction(t, "Comment", &c, nil))
	other := b.Submit(newAction(t, "Comment", &c, nil))
	require.NoError(t, b.Accept(context.Background(), id))

	before := b.ListPending()

	var nf *NotFoundError
	require.ErrorAs(t, b.Accept(context.Background(), id), &nf)
	assert.Equal(t, id, nf.ID)
	require.ErrorAs(t, b.Reject(context.Background(), id, "again"), &nf)
	require.ErrorAs(t, b.Accept(context.Background(), "never-existed"), &nf)
	_, err := b.Get("never-existed")
	require.ErrorAs(t, err, &nf)

	assert.Equal(t, before, b.ListPending())
	assert.Equal(t, int32(1), c.accepted.Load())
	assert.Equal(t, int32(0), c.rejected.Load())

	summary, err := b.Get(other)
	require.NoError(t, err)
	assert.Equal(t, other, summary.ID)
}

func TestAccept_ApplyFailureIsReportedAndResolved(t *testing.T) {
	store := journal.NewMemoryStore()
	b := newBroker(t, WithJournal(store))
	var c counts
	boom := errors.New("host refused")
	id := b.Submit(newAction(t, "Comment", &c, boom))

	err := b.Accept(context.Background(), id)
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, b.PendingCount())

	decisions, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, journal.OutcomeFailed, decisions[0].Outcome)
	assert.Equal(t, "host refused", decisions[0].Reason)
}

func TestAccept_PanickingWorkIsReportedAndResolved(t *testing.T) {
	store := journal.NewMemoryStore()
	b := newBroker(t, WithJournal(store))
	a, err := action.NewBuilder().
		Gateway(testGateway).
		Location(resource.Location{Address: 0x401000}).
		Name("Comment").
		Description("Comment: entry point").
		OnAccepted(func() error { panic("host blew up") }).
		OnRejected(func(string) {}).
		Build()
	require.NoError(t, err)
	id := b.Submit(a)

	require.NotPanics(t, func() { err = b.Accept(context.Background(), id) })
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.ErrorContains(t, err, "host blew up")
	assert.Zero(t, b.PendingCount())

	decisions, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, journal.OutcomeFailed, decisions[0].Outcome)
}

func TestReject_PanickingWorkStillResolves(t *testing.T) {
	store := journal.NewMemoryStore()
	b := newBroker(t, WithJournal(store))
	a, err := action.NewBuilder().
		Gateway(testGateway).
		Location(resource.Location{Address: 0x401000}).
		Name("Comment").
		Description("Comment: entry point").
		OnAccepted(func() error { return nil }).
		OnRejected(func(string) { panic("sink gone") }).
		Build()
	require.NoError(t, err)
	id := b.Submit(a)

	var panicErr *action.WorkPanicError
	require.ErrorAs(t, b.Reject(context.Background(), id, "no"), &panicErr)
	assert.Zero(t, b.PendingCount())

	decisions, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, journal.OutcomeRejected, decisions[0].Outcome)
}

func TestResolve_RecordsJournalWithReviewer(t *testing.T) {
	store := journal.NewMemoryStore()
	start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time { return start.Add(time.Duration(tick.Add(1)) * time.Minute) }

	b := newBroker(t, WithJournal(store), WithClock(clock))
	var c counts
	accepted := b.Submit(newAction(t, "Comment", &c, nil))
	rejected := b.Submit(newAction(t, "Rename", &c, nil))

	ctx := WithReviewer(context.Background(), "alice")
	require.NoError(t, b.Accept(ctx, accepted))
	require.NoError(t, b.Reject(ctx, rejected, "wrong name"))

	decisions, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, decisions, 2)

	assert.Equal(t, rejected, decisions[0].ActionID)
	assert.Equal(t, journal.OutcomeRejected, decisions[0].Outcome)
	assert.Equal(t, "wrong name", decisions[0].Reason)
	assert.Equal(t, "alice", decisions[0].Reviewer)

	assert.Equal(t, accepted, decisions[1].ActionID)
	assert.Equal(t, journal.OutcomeAccepted, decisions[1].Outcome)
	assert.Equal(t, "0x00401000", decisions[1].Location)
	assert.True(t, decisions[1].ResolvedAt.After(decisions[1].SubmittedAt))
}

func TestReviewerFrom_Default(t *testing.T) {
	assert.Equal(t, "unknown", ReviewerFrom(context.Background()))
	assert.Equal(t, "bob", ReviewerFrom(WithReviewer(context.Background(), "bob")))
}

func TestEvents_ReachSubscribers(t *testing.T) {
	bus := events.NewLocalBus()
	defer bus.Close()

	var mu sync.Mutex
	var seen []events.Type
	bus.Subscribe(events.All, func(_ context.Context, e *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	})

	b := newBroker(t, WithEventBus(bus))
	var c counts
	id := b.Submit(newAction(t, "Comment", &c, nil))
	require.NoError(t, b.Reject(context.Background(), id, "no"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []events.Type{events.ActionSubmitted, events.ActionRejected}, seen)
	mu.Unlock()
}

func TestMetrics_PendingGauge(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	b := newBroker(t, WithMetrics(m))
	var c counts

	id := b.Submit(newAction(t, "Comment", &c, nil))
	b.Submit(newAction(t, "Comment", &c, nil))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PendingActions))

	require.NoError(t, b.Accept(context.Background(), id))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingActions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsResolved.WithLabelValues("Comment", "accepted")))
}

func TestConcurrentSubmitAndRandomResolution(t *testing.T) {
	b := newBroker(t)

	const producers, perProducer = 10, 10
	tallies := make([]*counts, producers*perProducer)
	for i := range tallies {
		tallies[i] = &counts{}
	}

	var wg sync.WaitGroup
	ids := make(chan string, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				c := tallies[p*perProducer+i]
				a, err := action.NewBuilder().
					Gateway(testGateway).
					Location(resource.Location{Address: uint64(0x401000 + p*perProducer + i)}).
					Name("Comment").
					Description("concurrent").
					OnAccepted(func() error { c.accepted.Add(1); return nil }).
					OnRejected(func(string) { c.rejected.Add(1) }).
					Build()
				if err != nil {
					t.Error(err)
					return
				}
				ids <- b.Submit(a)
			}
		}(p)
	}
	wg.Wait()
	close(ids)

	require.Equal(t, producers*perProducer, b.PendingCount())

	var all []string
	for id := range ids {
		all = append(all, id)
	}
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

	ctx := context.Background()
	for i, id := range all {
		if i%2 == 0 {
			require.NoError(t, b.Accept(ctx, id))
		} else {
			require.NoError(t, b.Reject(ctx, id, "random"))
		}
	}

	assert.Zero(t, b.PendingCount())
	assert.Empty(t, b.ListPending())
	for i, c := range tallies {
		assert.Equal(t, int32(1), c.accepted.Load()+c.rejected.Load(), "action %d", i)
	}
}

func TestConcurrentResolversRaceOnSameAction(t *testing.T) {
	b := newBroker(t)
	var c counts
	id := b.Submit(newAction(t, "Comment", &c, nil))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = b.Accept(context.Background(), id)
			} else {
				err = b.Reject(context.Background(), id, "race")
			}
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), c.accepted.Load()+c.rejected.Load())
}
