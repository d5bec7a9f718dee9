package flags

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/flagstore/pkg/attrs"
)

// testRegistry builds a registry on a fresh in-memory store with a manual
// defer queue, so deferred deliveries run only when the test drains them.
func testRegistry(t *testing.T) (*Registry, *attrs.MemoryStore, *deferQueue) {
	t.Helper()

	q := &deferQueue{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := NewRegistry(Config{Defer: q.Defer}, logger)
	return reg, attrs.NewMemoryStore(), q
}

type deferQueue struct {
	pending []func()
}

func (q *deferQueue) Defer(fn func()) {
	q.pending = append(q.pending, fn)
}

func (q *deferQueue) Drain() {
	for len(q.pending) > 0 {
		fn := q.pending[0]
		q.pending = q.pending[1:]
		fn()
	}
}

func TestRegistry_ValidatesArguments(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	_, err := reg.Flag(ctx, nil, "vip", true)
	assert.ErrorIs(t, err, ErrNilOwner)

	_, err = reg.Flag(ctx, owner, "", true)
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = reg.Has(ctx, owner, "")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, _, err = reg.Value(ctx, nil, "vip")
	assert.ErrorIs(t, err, ErrNilOwner)

	_, err = reg.OnAdded(ctx, owner, "", func(*Handle) {})
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = reg.OnRemoved(ctx, nil, "vip", func() {})
	assert.ErrorIs(t, err, ErrNilOwner)
}

func TestRegistry_FlagCreatesWithDefault(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	h, err := reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)
	assert.Equal(t, "vip", h.Name())
	assert.Equal(t, true, h.Value())

	// Creation persists immediately.
	has, err := reg.Has(ctx, owner, "vip")
	require.NoError(t, err)
	assert.True(t, has)

	v, ok, err := reg.Value(ctx, owner, "vip")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, v)
}

func TestRegistry_FlagNilDefaultMeansTrue(t *testing.T) {
	reg, owner, _ := testRegistry(t)

	h, err := reg.Flag(context.Background(), owner, "seen_intro", nil)
	require.NoError(t, err)
	assert.Equal(t, true, h.Value())
}

func TestRegistry_FlagIsIdempotent(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	h1, err := reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)

	// Second call retrieves rather than recreates; values agree whether the
	// call created or retrieved.
	h2, err := reg.Flag(ctx, owner, "vip", false)
	require.NoError(t, err)
	assert.Equal(t, h1.Value(), h2.Value())

	// Handles are independent views over the same slot.
	require.NoError(t, h2.SetValue(ctx, "gold"))
	v, ok, err := reg.Value(ctx, owner, "vip")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "gold", v)
}

func TestRegistry_FlagStructuredDefaultFallback(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	// Stored text that cannot decode yields the structured default.
	require.NoError(t, owner.Set(ctx, reg.Key("loadout"), "corrupt"))

	def := map[string]any{"slots": float64(2)}
	h, err := reg.Flag(ctx, owner, "loadout", def)
	require.NoError(t, err)
	assert.Equal(t, def, h.Value())

	// Valid stored text wins over the default.
	require.NoError(t, owner.Set(ctx, reg.Key("loadout"), `{"slots":5}`))
	h, err = reg.Flag(ctx, owner, "loadout", def)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"slots": float64(5)}, h.Value())
}

func TestRegistry_PresenceAbsenceDuality(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	has, err := reg.Has(ctx, owner, "vip")
	require.NoError(t, err)
	_, ok, err := reg.Value(ctx, owner, "vip")
	require.NoError(t, err)
	assert.False(t, has)
	assert.False(t, ok)

	h, err := reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)

	has, _ = reg.Has(ctx, owner, "vip")
	_, ok, _ = reg.Value(ctx, owner, "vip")
	assert.True(t, has)
	assert.True(t, ok)

	require.NoError(t, h.Remove(ctx))

	has, _ = reg.Has(ctx, owner, "vip")
	_, ok, _ = reg.Value(ctx, owner, "vip")
	assert.False(t, has)
	assert.False(t, ok)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	h, err := reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)

	require.NoError(t, h.Remove(ctx))
	require.NoError(t, h.Remove(ctx))

	has, err := reg.Has(ctx, owner, "vip")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRegistry_HandleWriteThrough(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	h, err := reg.Flag(ctx, owner, "quest", true)
	require.NoError(t, err)

	// Structured write lands in the slot as JSON text.
	require.NoError(t, h.SetValue(ctx, map[string]any{"stage": 3}))

	raw, err := owner.Get(ctx, reg.Key("quest"))
	require.NoError(t, err)
	assert.Equal(t, `{"stage":3}`, raw)

	// The handle re-decodes on every read.
	assert.Equal(t, map[string]any{"stage": 3}, h.Value())

	// A second handle sees the stored value.
	h2, err := reg.Flag(ctx, owner, "quest", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"stage": float64(3)}, h2.Value())
}

func TestRegistry_All(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	_, err := reg.Flag(ctx, owner, "a", true)
	require.NoError(t, err)
	_, err = reg.Flag(ctx, owner, "b", "str")
	require.NoError(t, err)
	_, err = reg.Flag(ctx, owner, "c", map[string]any{"n": float64(1)})
	require.NoError(t, err)

	// Unrelated attributes on the same player are not flags.
	require.NoError(t, owner.Set(ctx, "DisplayName", "morgan"))

	all, err := reg.All(ctx, owner)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, true, all["a"].Value())
	assert.Equal(t, "str", all["b"].Value())
	assert.Equal(t, map[string]any{"n": float64(1)}, all["c"].Value())
}

func TestRegistry_ClearScopedToFlagNamespace(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	_, err := reg.Flag(ctx, owner, "a", true)
	require.NoError(t, err)
	_, err = reg.Flag(ctx, owner, "b", 2)
	require.NoError(t, err)
	require.NoError(t, owner.Set(ctx, "DisplayName", "morgan"))

	require.NoError(t, reg.Clear(ctx, owner))

	for _, name := range []string{"a", "b"} {
		has, err := reg.Has(ctx, owner, name)
		require.NoError(t, err)
		assert.False(t, has, "flag %q should be cleared", name)
	}

	v, err := owner.Get(ctx, "DisplayName")
	require.NoError(t, err)
	assert.Equal(t, "morgan", v)
}

func TestRegistry_OnAddedImmediateFireIsDeferred(t *testing.T) {
	reg, owner, q := testRegistry(t)
	ctx := context.Background()

	_, err := reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)

	var fired []*Handle
	conn, err := reg.OnAdded(ctx, owner, "vip", func(h *Handle) {
		fired = append(fired, h)
	})
	require.NoError(t, err)
	defer conn.Disconnect()

	// Nothing fires inline with the subscribe call.
	assert.Empty(t, fired)

	q.Drain()
	require.Len(t, fired, 1)
	assert.Equal(t, true, fired[0].Value())
}

func TestRegistry_OnAddedNoImmediateFireWhenAbsent(t *testing.T) {
	reg, owner, q := testRegistry(t)
	ctx := context.Background()

	var count int
	conn, err := reg.OnAdded(ctx, owner, "vip", func(*Handle) { count++ })
	require.NoError(t, err)
	defer conn.Disconnect()

	q.Drain()
	assert.Zero(t, count)

	_, err = reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegistry_OnAddedFiresOnEveryChangeWhilePresent(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	var values []any
	conn, err := reg.OnAdded(ctx, owner, "score", func(h *Handle) {
		values = append(values, h.Value())
	})
	require.NoError(t, err)
	defer conn.Disconnect()

	h, err := reg.Flag(ctx, owner, "score", 1)
	require.NoError(t, err)
	require.NoError(t, h.SetValue(ctx, 2))
	require.NoError(t, h.SetValue(ctx, 3))
	require.NoError(t, h.Remove(ctx))

	// Every change while present fires, not just the transition in.
	assert.Equal(t, []any{1, 2, 3}, values)
}

func TestRegistry_OnRemoved(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	var count int
	conn, err := reg.OnRemoved(ctx, owner, "vip", func() { count++ })
	require.NoError(t, err)
	defer conn.Disconnect()

	// Never fires at subscribe time, even though the flag is absent.
	assert.Zero(t, count)

	h, err := reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, h.Remove(ctx))
	assert.Equal(t, 1, count)
}

func TestRegistry_OnAddedDisconnectStopsDelivery(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	var count int
	conn, err := reg.OnAdded(ctx, owner, "vip", func(*Handle) { count++ })
	require.NoError(t, err)

	_, err = reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	conn.Disconnect()

	h, err := reg.Flag(ctx, owner, "vip", nil)
	require.NoError(t, err)
	require.NoError(t, h.SetValue(ctx, "again"))
	assert.Equal(t, 1, count)
}

func TestRegistry_IndependentSubscriptionsPerCall(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	var a, b int
	connA, err := reg.OnAdded(ctx, owner, "vip", func(*Handle) { a++ })
	require.NoError(t, err)
	connB, err := reg.OnAdded(ctx, owner, "vip", func(*Handle) { b++ })
	require.NoError(t, err)
	defer connB.Disconnect()

	_, err = reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	// Disconnecting one caller's subscription leaves the other's alive.
	connA.Disconnect()

	h, err := reg.Flag(ctx, owner, "vip", nil)
	require.NoError(t, err)
	require.NoError(t, h.SetValue(ctx, 2))
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestRegistry_HandleConstructorDoesNotTouchStore(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	h, err := reg.Handle(owner, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", h.Name())

	// Constructing a handle neither reads nor creates the flag.
	has, err := reg.Has(ctx, owner, "ghost")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = reg.Handle(nil, "ghost")
	assert.ErrorIs(t, err, ErrNilOwner)
	_, err = reg.Handle(owner, "")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestRegistry_RemoveAbsentFlagFiresNoAddedEvents(t *testing.T) {
	reg, owner, q := testRegistry(t)
	ctx := context.Background()

	var added int
	conn, err := reg.OnAdded(ctx, owner, "ghost", func(*Handle) { added++ })
	require.NoError(t, err)
	defer conn.Disconnect()

	// Removing a flag that was never set must not create it first.
	h, err := reg.Handle(owner, "ghost")
	require.NoError(t, err)
	require.NoError(t, h.Remove(ctx))

	q.Drain()
	assert.Zero(t, added)

	has, err := reg.Has(ctx, owner, "ghost")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRegistry_HandleSetValueWritesOnce(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	var changes int
	conn := owner.Changed(reg.Key("score")).Connect(func(any) { changes++ })
	defer conn.Disconnect()

	h, err := reg.Handle(owner, "score")
	require.NoError(t, err)
	require.NoError(t, h.SetValue(ctx, 5))

	// One user action, one store write, one change event.
	assert.Equal(t, 1, changes)

	v, ok, err := reg.Value(ctx, owner, "score")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestRegistry_VIPScenario(t *testing.T) {
	reg, owner, _ := testRegistry(t)
	ctx := context.Background()

	h, err := reg.Flag(ctx, owner, "vip", true)
	require.NoError(t, err)

	has, err := reg.Has(ctx, owner, "vip")
	require.NoError(t, err)
	require.True(t, has)

	v, ok, err := reg.Value(ctx, owner, "vip")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, true, v)

	require.NoError(t, h.SetValue(ctx, map[string]any{"tier": 2}))

	raw, err := owner.Get(ctx, reg.Key("vip"))
	require.NoError(t, err)
	require.Equal(t, `{"tier":2}`, raw)

	v, ok, err = reg.Value(ctx, owner, "vip")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, map[string]any{"tier": float64(2)}, v)

	require.NoError(t, h.Remove(ctx))

	has, err = reg.Has(ctx, owner, "vip")
	require.NoError(t, err)
	require.False(t, has)
}

func TestRegistry_StoreErrorPropagates(t *testing.T) {
	reg, _, _ := testRegistry(t)
	ctx := context.Background()

	broken := &failingStore{err: errors.New("backend down")}

	_, err := reg.Has(ctx, broken, "vip")
	assert.ErrorContains(t, err, "backend down")

	_, err = reg.Flag(ctx, broken, "vip", true)
	assert.ErrorContains(t, err, "backend down")

	_, err = reg.All(ctx, broken)
	assert.ErrorContains(t, err, "backend down")
}

// failingStore errors on every operation, for propagation tests.
type failingStore struct {
	attrs.MemoryStore
	err error
}

func (f *failingStore) Get(ctx context.Context, key string) (any, error) {
	return nil, f.err
}

func (f *failingStore) List(ctx context.Context) (map[string]any, error) {
	return nil, f.err
}

func (f *failingStore) Set(ctx context.Context, key string, v any) error {
	return f.err
}
