package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPendingGaugeTracksSubmitAndResolve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordSubmitted("Comment")
	m.RecordSubmitted("Comment")
	m.RecordResolved("Comment", "accepted", 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingActions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActionsSubmitted.WithLabelValues("Comment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsResolved.WithLabelValues("Comment", "accepted")))
}

func TestRecordTransactionLabels(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTransaction(true, time.Millisecond)
	m.RecordTransaction(false, time.Millisecond)
	m.RecordTransaction(false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("aborted")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmitted("Comment")
		m.RecordResolved("Comment", "rejected", time.Second)
		m.RecordTransaction(true, time.Second)
		m.RecordRPC("/reva.CommentService/SetComment", "OK")
	})
}
