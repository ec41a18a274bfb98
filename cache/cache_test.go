package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akorchen/gridsync/common"
	"github.com/akorchen/gridsync/kvstore"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// fakeClock is a settable wall clock.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	return New(kvstore.NewMemory(), WithClock(clk.now)), clk
}

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", payload{Name: "water", Count: 8}, time.Minute))

	var got payload
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload{Name: "water", Count: 8}, got)
}

func TestCache_GetMissing(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	var got payload
	ok, err := c.Get(ctx, "nope", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_ExpiredEntryIsAbsentAndPurged(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	clk := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	c := New(store, WithClock(clk.now))

	require.NoError(t, c.Set(ctx, "k", payload{Name: "x"}, time.Minute))
	clk.advance(time.Minute) // now == expiresAt: already absent

	var got payload
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, ok)

	// purged from the underlying store, so it can never resurrect
	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	require.Empty(t, keys)

	ok, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", payload{Count: 1}, time.Minute))
	require.NoError(t, c.Set(ctx, "k", payload{Count: 2}, time.Minute))

	var got payload
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got.Count)
}

func TestCache_RejectsNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.Error(t, c.Set(ctx, "k", payload{}, 0))
	require.Error(t, c.Set(ctx, "k", payload{}, -time.Second))
}

func TestCache_CorruptEntryIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	c := New(store)

	require.NoError(t, store.Set(ctx, map[string][]byte{"k": []byte("not json")}))

	var got payload
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_Sweep(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	clk := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	c := New(store, WithClock(clk.now))

	require.NoError(t, c.Set(ctx, "h_a", payload{}, time.Minute))
	require.NoError(t, c.Set(ctx, "h_b", payload{}, time.Hour))
	require.NoError(t, c.Set(ctx, "t_c", payload{}, time.Minute))

	clk.advance(30 * time.Minute)

	purged, err := c.Sweep(ctx, "h_")
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	var got payload
	ok, err := c.Get(ctx, "h_b", &got)
	require.NoError(t, err)
	require.True(t, ok)

	// t_c expired too but was outside the swept prefix
	keys, err := store.Keys(ctx, "t_")
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestCache_StorageErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	c := New(failingStore{})

	var got payload
	_, err := c.Get(ctx, "k", &got)
	require.True(t, errors.Is(err, common.ErrStorageUnavailable))
}

// failingStore always reports an unavailable backend.
type failingStore struct{}

func (failingStore) Get(context.Context, []string) (map[string][]byte, error) {
	return nil, common.ErrStorageUnavailable
}
func (failingStore) Set(context.Context, map[string][]byte) error {
	return common.ErrStorageUnavailable
}
func (failingStore) Remove(context.Context, []string) error {
	return common.ErrStorageUnavailable
}
func (failingStore) Keys(context.Context, string) ([]string, error) {
	return nil, common.ErrStorageUnavailable
}
func (failingStore) Clear(context.Context) error {
	return common.ErrStorageUnavailable
}
