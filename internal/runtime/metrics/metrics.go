// Package metrics records correlation store, waiter and topic adapter
// statistics in Prometheus and keeps a per-store snapshot for inspection.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Wait outcomes used as the "outcome" label.
const (
	OutcomeFound     = "found"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Metrics tracks correlation statistics.
type Metrics struct {
	mu sync.RWMutex

	stores map[string]*StoreStats

	storedTotal   *prometheus.CounterVec
	droppedTotal  *prometheus.CounterVec
	foundTotal    *prometheus.CounterVec
	pending       *prometheus.GaugeVec
	waitsTotal    *prometheus.CounterVec
	waitSeconds   *prometheus.HistogramVec
	bufferedTotal *prometheus.CounterVec
	running       *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// StoreStats holds the counters of one named store.
type StoreStats struct {
	Stored        uint64        `json:"stored"`
	Dropped       uint64        `json:"dropped"`
	Found         uint64        `json:"found"`
	Pending       int           `json:"pending"`
	Timeouts      uint64        `json:"timeouts"`
	Cancellations uint64        `json:"cancellations"`
	LastWait      time.Duration `json:"last_wait"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
}

// Snapshot provides a point-in-time view of every store.
type Snapshot struct {
	TotalPending int                    `json:"total_pending"`
	TotalStored  uint64                 `json:"total_stored"`
	TotalDropped uint64                 `json:"total_dropped"`
	Stores       map[string]*StoreStats `json:"stores"`
	CollectedAt  time.Time              `json:"collected_at"`
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replybridge",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "replybridge",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collectors without registering them.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		stores:       make(map[string]*StoreStats),
		registerer:   registerer,
		storedTotal:  newCounterVec("correlation", "stored_total", "Values stored under a correlation key", "store"),
		droppedTotal: newCounterVec("correlation", "dropped_total", "Store calls ignored because the value was nil", "store"),
		foundTotal:   newCounterVec("correlation", "found_total", "Values removed by a successful lookup", "store"),
		pending:      newGaugeVec("correlation", "pending", "Values currently waiting in a store", "store"),
		waitsTotal:   newCounterVec("waiter", "receives_total", "Finished synchronous receives by outcome", "store", "outcome"),
		waitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "replybridge",
				Subsystem: "waiter",
				Name:      "receive_duration_seconds",
				Help:      "Time a synchronous receive spent waiting",
				Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"store", "outcome"},
		),
		bufferedTotal: newCounterVec("subscription", "buffered_total", "Events moved from a topic into its buffer", "topic"),
		running:       newGaugeVec("subscription", "running", "1 while the topic adapter drains its subscription", "topic"),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.storedTotal,
		m.droppedTotal,
		m.foundTotal,
		m.pending,
		m.waitsTotal,
		m.waitSeconds,
		m.bufferedTotal,
		m.running,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordStored counts a successful store; pending is the store size afterwards.
func (m *Metrics) RecordStored(store string, pending int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsFor(store)
	stats.Stored++
	stats.Pending = pending
	stats.LastUpdatedAt = time.Now()

	m.storedTotal.WithLabelValues(store).Inc()
	m.pending.WithLabelValues(store).Set(float64(pending))
}

// RecordDropped counts a store call that carried no value.
func (m *Metrics) RecordDropped(store string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsFor(store)
	stats.Dropped++
	stats.LastUpdatedAt = time.Now()

	m.droppedTotal.WithLabelValues(store).Inc()
}

// RecordFound counts a destructive lookup that returned a value.
func (m *Metrics) RecordFound(store string, pending int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsFor(store)
	stats.Found++
	stats.Pending = pending
	stats.LastUpdatedAt = time.Now()

	m.foundTotal.WithLabelValues(store).Inc()
	m.pending.WithLabelValues(store).Set(float64(pending))
}

// SetPending resets the pending gauge, e.g. after a store was cleared.
func (m *Metrics) SetPending(store string, pending int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsFor(store)
	stats.Pending = pending
	stats.LastUpdatedAt = time.Now()

	m.pending.WithLabelValues(store).Set(float64(pending))
}

// RecordWait records how one synchronous receive ended.
func (m *Metrics) RecordWait(store, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsFor(store)
	switch outcome {
	case OutcomeTimeout:
		stats.Timeouts++
	case OutcomeCancelled:
		stats.Cancellations++
	}
	stats.LastWait = elapsed
	stats.LastUpdatedAt = time.Now()

	m.waitsTotal.WithLabelValues(store, outcome).Inc()
	m.waitSeconds.WithLabelValues(store, outcome).Observe(elapsed.Seconds())
}

// RecordBuffered counts an event pushed into a topic adapter's buffer.
func (m *Metrics) RecordBuffered(topic string) {
	if m == nil {
		return
	}
	m.bufferedTotal.WithLabelValues(topic).Inc()
}

// SetRunning flags whether the adapter for topic is draining.
func (m *Metrics) SetRunning(topic string, running bool) {
	if m == nil {
		return
	}
	value := 0.0
	if running {
		value = 1
	}
	m.running.WithLabelValues(topic).Set(value)
}

// GetSnapshot returns a point-in-time copy of every store's counters.
func (m *Metrics) GetSnapshot() Snapshot {
	snapshot := Snapshot{
		Stores:      make(map[string]*StoreStats),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snapshot
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, stats := range m.stores {
		statsCopy := *stats
		snapshot.Stores[name] = &statsCopy
		snapshot.TotalPending += stats.Pending
		snapshot.TotalStored += stats.Stored
		snapshot.TotalDropped += stats.Dropped
	}
	return snapshot
}

// GetStoreStats returns a copy of one store's counters, or nil.
func (m *Metrics) GetStoreStats(store string) *StoreStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.stores[store]; ok {
		statsCopy := *stats
		return &statsCopy
	}
	return nil
}

func (m *Metrics) statsFor(store string) *StoreStats {
	if stats, ok := m.stores[store]; ok {
		return stats
	}
	stats := &StoreStats{}
	m.stores[store] = stats
	return stats
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stores = make(map[string]*StoreStats)
	m.storedTotal.Reset()
	m.droppedTotal.Reset()
	m.foundTotal.Reset()
	m.pending.Reset()
	m.waitsTotal.Reset()
	m.waitSeconds.Reset()
	m.bufferedTotal.Reset()
	m.running.Reset()
}
