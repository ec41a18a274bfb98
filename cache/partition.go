package cache

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Keyer is the minimal record contract the partitioned cache needs: a stable
// identifier and a secondary sort key for deterministic bulk reads.
type Keyer interface {
	RecordID() string
	SortKey() string
}

// Partitioned caches one record collection with keys partitioned by
// month/year: prefix_MMYYYY_id. Time-unbounded collections pass the zero
// period and share a single partition.
type Partitioned[T Keyer] struct {
	cache  *Cache
	prefix string
	ttl    time.Duration
}

func NewPartitioned[T Keyer](c *Cache, prefix string, ttl time.Duration) *Partitioned[T] {
	return &Partitioned[T]{cache: c, prefix: prefix, ttl: ttl}
}

// PeriodPrefix returns the key prefix shared by all records of a period.
func (p *Partitioned[T]) PeriodPrefix(month time.Month, year int) string {
	return fmt.Sprintf("%s_%02d%04d_", p.prefix, int(month), year)
}

// Key returns the full cache key for one record in a period.
func (p *Partitioned[T]) Key(month time.Month, year int, id string) string {
	return p.PeriodPrefix(month, year) + id
}

func (p *Partitioned[T]) StoreOne(ctx context.Context, month time.Month, year int, rec T) error {
	return p.cache.Set(ctx, p.Key(month, year, rec.RecordID()), rec, p.ttl)
}

func (p *Partitioned[T]) StoreMany(ctx context.Context, month time.Month, year int, recs []T) error {
	for _, rec := range recs {
		if err := p.StoreOne(ctx, month, year, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partitioned[T]) RemoveOne(ctx context.Context, month time.Month, year int, id string) error {
	return p.cache.Remove(ctx, p.Key(month, year, id))
}

func (p *Partitioned[T]) RemoveMany(ctx context.Context, month time.Month, year int, ids []string) error {
	for _, id := range ids {
		if err := p.RemoveOne(ctx, month, year, id); err != nil {
			return err
		}
	}
	return nil
}

// GetAllForPeriod scans the period's partition, skips expired entries
// inline, and returns the survivors sorted by SortKey then ID.
func (p *Partitioned[T]) GetAllForPeriod(ctx context.Context, month time.Month, year int) ([]T, error) {
	keys, err := p.cache.store.Keys(ctx, p.PeriodPrefix(month, year))
	if err != nil {
		return nil, err
	}

	var recs []T
	for _, key := range keys {
		var rec T
		ok, err := p.cache.Get(ctx, key, &rec)
		if err != nil {
			return nil, err
		}
		if ok {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SortKey() != recs[j].SortKey() {
			return recs[i].SortKey() < recs[j].SortKey()
		}
		return recs[i].RecordID() < recs[j].RecordID()
	})
	return recs, nil
}

// ReplaceAll atomically (from the reader's perspective: key by key, newest
// wins) replaces the period's partition with recs, removing records that are
// no longer present.
func (p *Partitioned[T]) ReplaceAll(ctx context.Context, month time.Month, year int, recs []T) error {
	keys, err := p.cache.store.Keys(ctx, p.PeriodPrefix(month, year))
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		keep[p.Key(month, year, rec.RecordID())] = struct{}{}
	}

	var stale []string
	for _, key := range keys {
		if _, ok := keep[key]; !ok {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		if err := p.cache.store.Remove(ctx, stale); err != nil {
			return err
		}
	}
	return p.StoreMany(ctx, month, year, recs)
}
