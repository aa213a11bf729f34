// Package correlation matches replies to the exchanges waiting for them.
//
// A Store holds pending values under correlation keys and hands each value
// out at most once. Correlators derive those keys from messages, the
// ReplyAddressTracker remembers where replies must go, and the KeyRegistry
// remembers which key an endpoint is currently working on.
package correlation

import (
	"reflect"
	"sync"

	"github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/metrics"
)

type storeOptions struct {
	logger  logging.ServiceLogger
	metrics *metrics.Metrics
}

// StoreOption configures a Store or a ReplyAddressTracker.
type StoreOption func(*storeOptions)

// WithStoreLogger sets the logger used for dropped values.
func WithStoreLogger(log logging.ServiceLogger) StoreOption {
	return func(o *storeOptions) {
		o.logger = log
	}
}

// WithStoreMetrics records store activity under the store's name.
func WithStoreMetrics(m *metrics.Metrics) StoreOption {
	return func(o *storeOptions) {
		o.metrics = m
	}
}

// Store is a concurrent key/value store with destructive reads. Every stored
// value is returned by at most one Find.
type Store[V any] struct {
	name    string
	logger  logging.ServiceLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	values  map[string]V
	changed chan struct{}
}

// NewStore creates an empty store. name labels its logs and metrics.
func NewStore[V any](name string, opts ...StoreOption) *Store[V] {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &Store[V]{
		name:    name,
		logger:  logging.OrNop(o.logger).With(logging.LogFields{"store": name}),
		metrics: o.metrics,
		values:  make(map[string]V),
		changed: make(chan struct{}),
	}
}

// Name returns the label given to NewStore.
func (s *Store[V]) Name() string {
	return s.name
}

// Store makes value retrievable under key, replacing any previous value.
// A nil value is dropped with a warning.
func (s *Store[V]) Store(key string, value V) {
	if isNil(value) {
		s.drop(key, "value is nil")
		return
	}

	s.mu.Lock()
	s.values[key] = value
	pending := len(s.values)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.metrics.RecordStored(s.name, pending)
	s.logger.Trace("Stored correlated value", logging.LogFields{"key": key})
}

// Find removes and returns the value stored under key.
func (s *Store[V]) Find(key string) (V, bool) {
	s.mu.Lock()
	value, ok := s.values[key]
	if ok {
		delete(s.values, key)
	}
	pending := len(s.values)
	s.mu.Unlock()

	if ok {
		s.metrics.RecordFound(s.name, pending)
	}
	return value, ok
}

// Changed returns a channel that is closed by the next successful Store.
func (s *Store[V]) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Len reports how many values are pending.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Clear drops every pending value.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.values = make(map[string]V)
	s.mu.Unlock()

	s.metrics.SetPending(s.name, 0)
}

func (s *Store[V]) drop(key, reason string) {
	s.metrics.RecordDropped(s.name)
	s.logger.Warn("Ignoring store request", logging.LogFields{"key": key, "reason": reason})
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	}
	return false
}
