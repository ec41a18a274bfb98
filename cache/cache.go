// Package cache provides a TTL cache over the durable key-value store, plus
// a month/year-partitioned variant for time-bounded record collections. It
// knows nothing about domain types; values are JSON envelopes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akorchen/gridsync/kvstore"
)

// envelopeVersion is bumped when the on-disk envelope layout changes.
// Readers purge envelopes with an unknown version.
const envelopeVersion = 1

var errNonPositiveTTL = errors.New("ttl must be positive")

// envelope is the stored form of every cache entry.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"createdAt"`
	ExpiresAt int64           `json:"expiresAt"`
	Version   int             `json:"version"`
}

// Cache is a TTL key-value cache. Expiry is lazy: an expired entry is
// treated as absent on read and purged opportunistically; Sweep bounds
// storage growth between reads.
type Cache struct {
	store kvstore.Store
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock; tests use it to force expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(store kvstore.Store, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Set stores v under key for ttl. It always overwrites.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	if ttl <= 0 {
		return errNonPositiveTTL
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	now := c.now()
	env := envelope{
		Data:      data,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
		Version:   envelopeVersion,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", key, err)
	}

	return c.store.Set(ctx, map[string][]byte{key: raw})
}

// Get loads the entry under key into dst. It returns false for a missing,
// expired, or undecodable entry; expired and undecodable entries are purged
// so a later Get never resurrects them.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	found, err := c.store.Get(ctx, []string{key})
	if err != nil {
		return false, err
	}
	raw, ok := found[key]
	if !ok {
		return false, nil
	}

	data, ok := c.decode(key, raw)
	if !ok {
		_ = c.store.Remove(ctx, []string{key})
		return false, nil
	}

	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.store.Remove(ctx, []string{key})
		return false, nil
	}
	return true, nil
}

// Remove deletes the entry under key. Removing an absent key is a no-op.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.store.Remove(ctx, []string{key})
}

// Clear wipes the whole store.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Sweep purges every expired or undecodable entry whose key starts with
// prefix and reports how many were removed.
func (c *Cache) Sweep(ctx context.Context, prefix string) (int, error) {
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	found, err := c.store.Get(ctx, keys)
	if err != nil {
		return 0, err
	}

	var stale []string
	for key, raw := range found {
		if _, ok := c.decode(key, raw); !ok {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := c.store.Remove(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// decode unwraps an envelope and reports whether it is still alive.
func (c *Cache) decode(key string, raw []byte) (json.RawMessage, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Version != envelopeVersion {
		return nil, false
	}
	if env.ExpiresAt <= env.CreatedAt {
		return nil, false
	}
	if c.now().UnixMilli() >= env.ExpiresAt {
		return nil, false
	}
	return env.Data, true
}
