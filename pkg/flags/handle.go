package flags

import (
	"context"

	"github.com/jwebster45206/flagstore/pkg/attrs"
)

// Handle is a transient view of one flag on one player. Handles carry no
// identity: two handles for the same flag are independent objects reading
// and writing the same attribute slot, and the slot stays the sole source
// of truth. Construct handles through a Registry.
type Handle struct {
	owner attrs.Store
	name  string
	key   string // namespaced storage key
	raw   any    // last known value, decoded on every read
}

func newHandle(owner attrs.Store, name, key string, raw any) *Handle {
	return &Handle{
		owner: owner,
		name:  name,
		key:   key,
		raw:   raw,
	}
}

// Name returns the flag's identifier, without the storage prefix.
func (h *Handle) Name() string {
	return h.name
}

// Value returns the flag's logical value. The decode attempt runs on every
// call rather than being memoized; it is cheap and keeps the handle free of
// a second source of truth.
func (h *Handle) Value() any {
	return Decode(h.raw)
}

// SetValue updates the handle's cached value and writes the encoded form
// through to the attribute slot. Store failures propagate to the caller.
func (h *Handle) SetValue(ctx context.Context, v any) error {
	h.raw = v
	enc, err := Encode(v)
	if err != nil {
		return err
	}
	return h.owner.Set(ctx, h.key, enc)
}

// Remove deletes the flag's attribute slot. Removing an already-absent
// flag is a no-op.
func (h *Handle) Remove(ctx context.Context) error {
	return h.owner.Set(ctx, h.key, nil)
}
