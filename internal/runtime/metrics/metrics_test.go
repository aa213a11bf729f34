package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_StoreCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.RecordStored("replies", 1)
	m.RecordStored("replies", 2)
	m.RecordDropped("replies")
	m.RecordFound("replies", 1)

	stats := m.GetStoreStats("replies")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(2), stats.Stored)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(1), stats.Found)
	assert.Equal(t, 1, stats.Pending)
	assert.False(t, stats.LastUpdatedAt.IsZero())

	assert.Equal(t, 2.0, gathered(t, reg, "replybridge_correlation_stored_total"))
	assert.Equal(t, 1.0, gathered(t, reg, "replybridge_correlation_pending"))
}

func TestMetrics_RecordWait(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.RecordWait("replies", OutcomeFound, 10*time.Millisecond)
	m.RecordWait("replies", OutcomeTimeout, time.Second)
	m.RecordWait("replies", OutcomeCancelled, 5*time.Millisecond)

	stats := m.GetStoreStats("replies")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.Timeouts)
	assert.Equal(t, uint64(1), stats.Cancellations)
	assert.Equal(t, 5*time.Millisecond, stats.LastWait)
	assert.Equal(t, 3.0, gathered(t, reg, "replybridge_waiter_receives_total"))
}

func TestMetrics_SubscriptionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.RecordBuffered("orders")
	m.RecordBuffered("orders")
	m.SetRunning("orders", true)
	assert.Equal(t, 2.0, gathered(t, reg, "replybridge_subscription_buffered_total"))
	assert.Equal(t, 1.0, gathered(t, reg, "replybridge_subscription_running"))

	m.SetRunning("orders", false)
	assert.Equal(t, 0.0, gathered(t, reg, "replybridge_subscription_running"))
}

// gathered sums the counter, gauge or histogram-count samples of one family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestMetrics_GetSnapshot(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordStored("replies", 1)
	m.RecordStored("addresses", 1)
	m.RecordDropped("addresses")
	m.SetPending("replies", 0)

	snapshot := m.GetSnapshot()
	assert.Equal(t, 1, snapshot.TotalPending)
	assert.Equal(t, uint64(2), snapshot.TotalStored)
	assert.Equal(t, uint64(1), snapshot.TotalDropped)
	assert.Len(t, snapshot.Stores, 2)
	assert.False(t, snapshot.CollectedAt.IsZero())

	snapshot.Stores["replies"].Stored = 99
	assert.Equal(t, uint64(1), m.GetStoreStats("replies").Stored)
}

func TestMetrics_Reset(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordStored("replies", 1)
	m.Reset()

	assert.Empty(t, m.GetSnapshot().Stores)
	assert.Nil(t, m.GetStoreStats("replies"))
}

func TestMetrics_RegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New(reg).Register())
	require.NoError(t, New(reg).Register())
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		require.NoError(t, m.Register())
		m.RecordStored("replies", 1)
		m.RecordDropped("replies")
		m.RecordFound("replies", 0)
		m.SetPending("replies", 0)
		m.RecordWait("replies", OutcomeFound, time.Millisecond)
		m.RecordBuffered("orders")
		m.SetRunning("orders", true)
		m.Reset()
	})
	assert.Empty(t, m.GetSnapshot().Stores)
	assert.Nil(t, m.GetStoreStats("replies"))
}
