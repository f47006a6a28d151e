package sdk

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reva/bridge/internal/action"
	"github.com/reva/bridge/internal/broker"
	"github.com/reva/bridge/internal/journal"
	"github.com/reva/bridge/internal/middleware"
	"github.com/reva/bridge/internal/resource"
	"github.com/reva/bridge/internal/review"
)

func TestClientAgainstReviewAPI(t *testing.T) {
	hash, err := middleware.HashToken("s3cret")
	require.NoError(t, err)

	store := journal.NewMemoryStore()
	b := broker.New(broker.WithJournal(store))
	defer b.Close()

	srv := httptest.NewServer(review.NewRouter(review.Options{
		Broker:    b,
		Journal:   store,
		TokenHash: hash,
		Gatherer:  prometheus.NewRegistry(),
	}))
	defer srv.Close()

	gateway := resource.NewHostGateway(resource.NewMemoryProgram("test", nil), nil)
	var applied, rejectedWith atomic.Value
	submit := func(desc string) string {
		a, err := action.NewBuilder().
			Gateway(gateway).
			Location(resource.Location{Address: 0x401000}).
			Name("Comment").
			Description(desc).
			OnAccepted(func() error { applied.Store(desc); return nil }).
			OnRejected(func(reason string) { rejectedWith.Store(reason) }).
			Build()
		require.NoError(t, err)
		return b.Submit(a)
	}
	first := submit("Comment: one")
	second := submit("Comment: two")

	ctx := context.Background()
	client := NewClient(Config{BaseURL: srv.URL, Token: "s3cret", Reviewer: "alice"})

	pending, err := client.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)

	got, err := client.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "Comment: two", got.Description)

	require.NoError(t, client.Accept(ctx, first))
	assert.Equal(t, "Comment: one", applied.Load())
	require.NoError(t, client.Reject(ctx, second, "duplicate"))
	assert.Equal(t, "duplicate", rejectedWith.Load())

	err = client.Accept(ctx, first)
	assert.True(t, IsNotFound(err))

	decisions, err := client.Decisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "alice", decisions[0].Reviewer)
	assert.Equal(t, journal.OutcomeRejected, decisions[0].Outcome)
}

func TestClientBadToken(t *testing.T) {
	hash, err := middleware.HashToken("s3cret")
	require.NoError(t, err)
	b := broker.New()
	defer b.Close()

	srv := httptest.NewServer(review.NewRouter(review.Options{
		Broker:    b,
		Journal:   journal.NewMemoryStore(),
		TokenHash: hash,
		Gatherer:  prometheus.NewRegistry(),
	}))
	defer srv.Close()

	_, err = NewClient(Config{BaseURL: srv.URL, Token: "wrong"}).ListPending(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, "invalid token", apiErr.Message)
}
