package correlation

import (
	"fmt"
	"sync"

	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
)

// KeyRegistry remembers the correlation key an endpoint is working on, by
// name. Reads are not destructive: a consumer may reply more than once to the
// message it received last.
type KeyRegistry struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewKeyRegistry returns an empty registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[string]string)}
}

// Save records key under name, replacing the previous key.
func (r *KeyRegistry) Save(name, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[name] = key
}

// Get returns the key last saved under name.
func (r *KeyRegistry) Get(name string) (string, error) {
	r.mu.RLock()
	key, ok := r.keys[name]
	r.mu.RUnlock()

	if !ok || key == "" {
		return "", fmt.Errorf("failed to get correlation key for %q: %w", name, rberrors.ErrCorrelationKeyNotFound)
	}
	return key, nil
}

// Clear forgets every key.
func (r *KeyRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = make(map[string]string)
}
