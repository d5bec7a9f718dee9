// Package attrs defines the per-player attribute store: a scalar-only
// key-value surface with change notification. Presence is non-nil; setting
// a key to nil removes it.
package attrs

import (
	"context"
	"fmt"

	"github.com/jwebster45206/flagstore/pkg/signal"
)

// HealthChecker defines basic health check capabilities
type HealthChecker interface {
	// Ping tests the store connection
	Ping(ctx context.Context) error
}

// Closer defines cleanup capabilities
type Closer interface {
	// Close releases the store's resources
	Close() error
}

// Store is one player's attribute table. Values are scalar only
// (bool, integer, float, or string); structured data must be encoded
// to a string before storage.
type Store interface {
	HealthChecker
	Closer

	// Get returns the value stored under key, or nil if the key is absent.
	Get(ctx context.Context, key string) (any, error)

	// Set stores a scalar value under key. A nil value removes the key.
	// Non-scalar values are rejected with ErrNotScalar.
	Set(ctx context.Context, key string, value any) error

	// List returns every present key and its value.
	List(ctx context.Context) (map[string]any, error)

	// Changed returns the change signal for key. The signal fires with the
	// new value after every Set on that key, nil included (removal).
	Changed(key string) *signal.Signal[any]
}

// ErrNotScalar is returned by Set for values the store cannot hold.
var ErrNotScalar = fmt.Errorf("attrs: value is not a scalar")

// IsScalar reports whether v can be stored directly in an attribute slot.
// A nil v is the removal sentinel and counts as storable.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
