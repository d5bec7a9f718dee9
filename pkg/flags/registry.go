// Package flags layers ephemeral, named per-player values ("flags") over a
// scalar-only attribute store. A flag exists iff its namespaced attribute
// key is present; structured values round-trip through JSON text in the
// slot. The registry is stateless: every operation reads the store fresh
// and handles are built on demand.
package flags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jwebster45206/flagstore/pkg/attrs"
	"github.com/jwebster45206/flagstore/pkg/signal"
)

// DefaultPrefix namespaces flag attributes apart from whatever else the
// host keeps on the same player.
const DefaultPrefix = "FLAG_"

var (
	// ErrNilOwner is returned when an operation is given no player store.
	ErrNilOwner = errors.New("flag owner is required")

	// ErrEmptyName is returned when an operation is given an empty flag name.
	ErrEmptyName = errors.New("flag name is required")
)

// Config carries the registry's construction-time settings.
type Config struct {
	// Prefix is the attribute-key namespace for flags.
	// DefaultPrefix when empty.
	Prefix string

	// Defer schedules a callback for a later scheduling turn. It backs the
	// immediate fire of OnAdded subscriptions, which must not run inline
	// with the subscribe call. Defaults to running in a new goroutine;
	// tests inject a manual queue for deterministic ordering.
	Defer func(func())
}

// Registry is the module's public surface: existence checks, get-or-create,
// enumeration, clearing, and change-notification streams, all computed
// directly from the player's attribute store.
type Registry struct {
	prefix  string
	deferFn func(func())
	logger  *slog.Logger
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Defer == nil {
		cfg.Defer = func(fn func()) { go fn() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		prefix:  cfg.Prefix,
		deferFn: cfg.Defer,
		logger:  logger,
	}
}

// Key returns the storage key for a flag name.
func (r *Registry) Key(name string) string {
	return r.prefix + name
}

func (r *Registry) validate(owner attrs.Store, name string) error {
	if owner == nil {
		return ErrNilOwner
	}
	if name == "" {
		return ErrEmptyName
	}
	return nil
}

// Has reports whether the named flag is present on the player.
func (r *Registry) Has(ctx context.Context, owner attrs.Store, name string) (bool, error) {
	if err := r.validate(owner, name); err != nil {
		return false, err
	}
	raw, err := owner.Get(ctx, r.Key(name))
	if err != nil {
		return false, fmt.Errorf("failed to check flag %q: %w", name, err)
	}
	return raw != nil, nil
}

// Value returns the flag's decoded value and whether it is present. The
// fast path of building a handle and reading it, without the handle.
func (r *Registry) Value(ctx context.Context, owner attrs.Store, name string) (any, bool, error) {
	if err := r.validate(owner, name); err != nil {
		return nil, false, err
	}
	raw, err := owner.Get(ctx, r.Key(name))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read flag %q: %w", name, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	return Decode(raw), true, nil
}

// Flag is the idempotent get-or-create operation. An existing flag yields a
// handle on its stored value, decoded with def's type as a hint: a
// structured default swallows undecodable stored text rather than handing
// the caller a raw string. An absent flag is created with def (true when
// def is nil) and persisted immediately.
func (r *Registry) Flag(ctx context.Context, owner attrs.Store, name string, def any) (*Handle, error) {
	if err := r.validate(owner, name); err != nil {
		return nil, err
	}
	if def == nil {
		def = true
	}

	key := r.Key(name)
	raw, err := owner.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read flag %q: %w", name, err)
	}

	if raw != nil {
		return newHandle(owner, name, key, decodeWithDefault(raw, def)), nil
	}

	enc, err := Encode(def)
	if err != nil {
		return nil, fmt.Errorf("failed to create flag %q: %w", name, err)
	}
	if err := owner.Set(ctx, key, enc); err != nil {
		return nil, fmt.Errorf("failed to create flag %q: %w", name, err)
	}

	r.logger.Debug("Flag created", "flag", name)
	return newHandle(owner, name, key, def), nil
}

// Handle constructs a handle for the named flag without touching the
// store: nothing is read, created, or persisted. Callers use it to write
// or remove a flag without the get-or-create persistence of Flag.
func (r *Registry) Handle(owner attrs.Store, name string) (*Handle, error) {
	if err := r.validate(owner, name); err != nil {
		return nil, err
	}
	return newHandle(owner, name, r.Key(name), nil), nil
}

// All enumerates every flag on the player: attributes under the namespace
// prefix, decoded, one fresh handle each, keyed by flag name. Iteration
// order of the result is unspecified.
func (r *Registry) All(ctx context.Context, owner attrs.Store) (map[string]*Handle, error) {
	if owner == nil {
		return nil, ErrNilOwner
	}

	all, err := owner.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}

	out := make(map[string]*Handle)
	for key, raw := range all {
		if !strings.HasPrefix(key, r.prefix) {
			continue
		}
		name := key[len(r.prefix):]
		out[name] = newHandle(owner, name, key, Decode(raw))
	}
	return out, nil
}

// Clear removes every flag on the player. Attributes outside the flag
// namespace are untouched.
func (r *Registry) Clear(ctx context.Context, owner attrs.Store) error {
	if owner == nil {
		return ErrNilOwner
	}

	all, err := owner.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list flags: %w", err)
	}

	for key := range all {
		if !strings.HasPrefix(key, r.prefix) {
			continue
		}
		if err := owner.Set(ctx, key, nil); err != nil {
			return fmt.Errorf("failed to clear flag %q: %w", key[len(r.prefix):], err)
		}
	}
	return nil
}

// OnAdded subscribes fn to the named flag's presence events. If the flag is
// already present, fn fires once with the current value, deferred to the
// next scheduling turn rather than inline with the subscribe call. After
// that, fn fires with a fresh handle on every change that leaves the flag
// present, not only on the absent-to-present transition. Each call creates
// an independent underlying subscription; callers release it through the
// returned connection.
func (r *Registry) OnAdded(ctx context.Context, owner attrs.Store, name string, fn func(*Handle)) (*signal.Connection, error) {
	if err := r.validate(owner, name); err != nil {
		return nil, err
	}

	key := r.Key(name)
	conn := owner.Changed(key).Connect(func(raw any) {
		if raw == nil {
			return
		}
		fn(newHandle(owner, name, key, raw))
	})

	raw, err := owner.Get(ctx, key)
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("failed to read flag %q: %w", name, err)
	}
	if raw != nil {
		r.deferFn(func() {
			fn(newHandle(owner, name, key, raw))
		})
	}

	return conn, nil
}

// OnRemoved subscribes fn to the named flag's removal events. fn never
// fires at subscribe time, even when the flag is already absent; it fires
// on every subsequent change that leaves the flag absent. Callers release
// the subscription through the returned connection.
func (r *Registry) OnRemoved(ctx context.Context, owner attrs.Store, name string, fn func()) (*signal.Connection, error) {
	if err := r.validate(owner, name); err != nil {
		return nil, err
	}

	conn := owner.Changed(r.Key(name)).Connect(func(raw any) {
		if raw == nil {
			fn()
		}
	})
	return conn, nil
}
