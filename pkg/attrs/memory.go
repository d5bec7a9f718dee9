package attrs

import (
	"context"
	"fmt"
	"sync"

	"github.com/jwebster45206/flagstore/pkg/signal"
)

// MemoryStore is an in-process Store implementation. It serves as the
// default backend for locally-owned players and as the test double for
// everything built on top of the Store interface.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string]any
	signals map[string]*signal.Signal[any]
	closed  bool
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory attribute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]any),
		signals: make(map[string]*signal.Signal[any]),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

// Set stores value under key, or removes key when value is nil. The key's
// change signal fires synchronously with the new value, after the mutation
// is visible to readers.
func (m *MemoryStore) Set(ctx context.Context, key string, value any) error {
	if !IsScalar(value) {
		return fmt.Errorf("%w: key %q holds %T", ErrNotScalar, key, value)
	}

	m.mu.Lock()
	if value == nil {
		delete(m.values, key)
	} else {
		m.values[key] = value
	}
	sig := m.signals[key]
	m.mu.Unlock()

	if sig != nil {
		sig.Fire(value)
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Changed(key string) *signal.Signal[any] {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig, ok := m.signals[key]
	if !ok {
		sig = signal.New[any]()
		m.signals[key] = sig
	}
	return sig
}
