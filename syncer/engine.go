// Package syncer reconciles one local record collection with its remote
// table. Reads are cache-first; mutations apply optimistically to memory and
// cache, then push to the remote in the background and roll back on failure.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akorchen/gridsync/cache"
	"github.com/akorchen/gridsync/common"
	"github.com/akorchen/gridsync/logging"
	"github.com/akorchen/gridsync/metrics"
	"github.com/akorchen/gridsync/notify"
	"github.com/akorchen/gridsync/records"
)

// State is the engine lifecycle phase.
type State string

const (
	StateUninitialized    State = "uninitialized"
	StateLoadingFromCache State = "loading_from_cache"
	StateReady            State = "ready"
	StateSyncing          State = "syncing"
	StateError            State = "error"
)

// Codec binds a record type to its table layout.
type Codec[T records.Record] struct {
	Sheet  string
	Header []string
	Encode func(T) []string
	Decode func([]string) T
}

// Remote is the subset of the table adapter the engine drives.
// *sheets.Adapter satisfies it.
type Remote interface {
	EnsureSheet(ctx context.Context, sheet string, header []string) error
	ReadRows(ctx context.Context, sheet string, width int) ([][]string, error)
	AppendRow(ctx context.Context, sheet string, row []string) error
	UpdateRow(ctx context.Context, sheet string, index int, row []string) error
	DeleteRow(ctx context.Context, sheet string, index int) error
	FindRowByValue(ctx context.Context, sheet string, width, column int, value string) (int, error)
}

// Config assembles one Engine.
type Config[T records.Record] struct {
	// Collection labels logs and metrics; usually the sheet name.
	Collection string

	Codec  Codec[T]
	Cache  *cache.Partitioned[T]
	Remote Remote

	// Month and Year select the partition this engine serves. The zero
	// period serves time-unbounded collections.
	Month time.Month
	Year  int

	// PeriodOf assigns a remote record to a partition. Nil keeps every
	// record in this engine's partition.
	PeriodOf func(T) (time.Month, int)

	// SyncCooldown suppresses background refreshes that would follow a
	// recent sync.
	SyncCooldown time.Duration

	// AuthSignal is invoked when the remote reports expired authorization.
	// The push is not retried here; the token lifecycle owns recovery.
	AuthSignal func(ctx context.Context)

	Notifier notify.Notifier
	Logger   logging.Logger
	Metrics  metrics.Collector
}

func (c *Config[T]) fillDefaults() {
	if c.SyncCooldown <= 0 {
		c.SyncCooldown = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
}

// Engine synchronizes one collection. All exported methods are safe for
// concurrent use; mutations of the same record are serialized.
type Engine[T records.Record] struct {
	cfg Config[T]
	log logging.Logger
	met metrics.Collector
	now func() time.Time

	mu         sync.Mutex
	state      State
	byID       map[string]T
	lastSyncAt time.Time
	bgSyncing  bool
	recordMus  map[string]*sync.Mutex

	ensureMu sync.Mutex
	ensured  bool

	// pushes lets Close and tests wait for in-flight remote work.
	pushes sync.WaitGroup
}

func New[T records.Record](cfg Config[T]) *Engine[T] {
	cfg.fillDefaults()
	return &Engine[T]{
		cfg:       cfg,
		log:       cfg.Logger.With("component", "syncer", "collection", cfg.Collection),
		met:       cfg.Metrics,
		now:       time.Now,
		state:     StateUninitialized,
		byID:      make(map[string]T),
		recordMus: make(map[string]*sync.Mutex),
	}
}

func (e *Engine[T]) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// BackgroundSyncing reports whether a non-blocking remote refresh is running.
func (e *Engine[T]) BackgroundSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bgSyncing
}

func (e *Engine[T]) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

// Records returns the current in-memory set sorted by SortKey then ID.
func (e *Engine[T]) Records() []T {
	e.mu.Lock()
	out := make([]T, 0, len(e.byID))
	for _, rec := range e.byID {
		out = append(out, rec)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SortKey() != out[j].SortKey() {
			return out[i].SortKey() < out[j].SortKey()
		}
		return out[i].RecordID() < out[j].RecordID()
	})
	return out
}

// Get returns the record by id from memory.
func (e *Engine[T]) Get(id string) (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id]
	return rec, ok
}

// Load brings the engine up: a populated cache serves immediately and a
// remote refresh runs in the background once the cooldown allows it; an
// empty cache forces a foreground fetch.
func (e *Engine[T]) Load(ctx context.Context) error {
	e.mu.Lock()
	e.state = StateLoadingFromCache
	e.mu.Unlock()

	cached, err := e.cfg.Cache.GetAllForPeriod(ctx, e.cfg.Month, e.cfg.Year)
	if err != nil {
		// a broken local store degrades to remote-only, it never blocks Load
		e.log.Warn(ctx, "cache read failed, falling back to remote", "err", err)
		cached = nil
	}

	if len(cached) == 0 {
		e.met.CacheMiss(e.cfg.Collection)
		e.setState(StateSyncing)
		if err := e.sync(ctx); err != nil {
			e.setState(StateError)
			return err
		}
		e.setState(StateReady)
		return nil
	}

	e.met.CacheHit(e.cfg.Collection)
	e.mu.Lock()
	e.byID = make(map[string]T, len(cached))
	for _, rec := range cached {
		e.byID[rec.RecordID()] = rec
	}
	stale := e.now().Sub(e.lastSyncAt) >= e.cfg.SyncCooldown
	if stale && !e.bgSyncing {
		e.bgSyncing = true
		e.pushes.Add(1)
		go func() {
			defer e.pushes.Done()
			defer func() {
				e.mu.Lock()
				e.bgSyncing = false
				e.mu.Unlock()
			}()
			if err := e.sync(context.WithoutCancel(ctx)); err != nil {
				e.log.Warn(ctx, "background refresh failed", "err", err)
			}
		}()
	}
	e.state = StateReady
	e.mu.Unlock()
	return nil
}

// Refresh forces a foreground remote fetch.
func (e *Engine[T]) Refresh(ctx context.Context) error {
	e.setState(StateSyncing)
	if err := e.sync(ctx); err != nil {
		e.setState(StateError)
		return err
	}
	e.setState(StateReady)
	return nil
}

// Create inserts rec optimistically and pushes it to the remote. The
// returned wait function reports the push outcome; by the time Create
// returns, readers already see the record.
func (e *Engine[T]) Create(ctx context.Context, rec T) (func() error, error) {
	id := rec.RecordID()
	if id == "" {
		return nil, fmt.Errorf("create: %w: empty record id", common.ErrValidationFailed)
	}
	unlock := e.lockRecord(id)

	snap := e.snapshot(id)
	e.apply(ctx, rec)

	return e.push(ctx, unlock, snap, func(ctx context.Context) error {
		if err := e.ensureSheet(ctx); err != nil {
			return err
		}
		return e.cfg.Remote.AppendRow(ctx, e.cfg.Codec.Sheet, e.cfg.Codec.Encode(rec))
	}), nil
}

// Update replaces the record optimistically and pushes the new row.
func (e *Engine[T]) Update(ctx context.Context, rec T) (func() error, error) {
	id := rec.RecordID()
	unlock := e.lockRecord(id)

	snap := e.snapshot(id)
	if !snap.existed {
		unlock()
		return nil, fmt.Errorf("update %s: %w", id, common.ErrNotFound)
	}
	e.apply(ctx, rec)

	return e.push(ctx, unlock, snap, func(ctx context.Context) error {
		return e.pushRow(ctx, id, e.cfg.Codec.Encode(rec))
	}), nil
}

// Mutate applies fn to the current record under its lock, then behaves like
// Update. fn must be pure; it may run with a stale read if the remote later
// rejects a concurrent writer, in which case the rollback restores the
// pre-mutation record.
func (e *Engine[T]) Mutate(ctx context.Context, id string, fn func(T) T) (func() error, error) {
	unlock := e.lockRecord(id)

	snap := e.snapshot(id)
	if !snap.existed {
		unlock()
		return nil, fmt.Errorf("mutate %s: %w", id, common.ErrNotFound)
	}
	rec := fn(snap.rec)
	if rec.RecordID() != id {
		unlock()
		return nil, fmt.Errorf("mutate %s: %w: id changed", id, common.ErrValidationFailed)
	}
	e.apply(ctx, rec)

	return e.push(ctx, unlock, snap, func(ctx context.Context) error {
		return e.pushRow(ctx, id, e.cfg.Codec.Encode(rec))
	}), nil
}

// Delete removes the record optimistically and deletes its remote row.
func (e *Engine[T]) Delete(ctx context.Context, id string) (func() error, error) {
	unlock := e.lockRecord(id)

	snap := e.snapshot(id)
	if !snap.existed {
		unlock()
		return nil, fmt.Errorf("delete %s: %w", id, common.ErrNotFound)
	}
	e.remove(ctx, id)

	return e.push(ctx, unlock, snap, func(ctx context.Context) error {
		idx, err := e.cfg.Remote.FindRowByValue(ctx, e.cfg.Codec.Sheet, len(e.cfg.Codec.Header), 0, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil // already gone remotely
		}
		if err != nil {
			return err
		}
		return e.cfg.Remote.DeleteRow(ctx, e.cfg.Codec.Sheet, idx)
	}), nil
}

// Close waits for in-flight pushes and background refreshes.
func (e *Engine[T]) Close() {
	e.pushes.Wait()
}

type snapshot[T records.Record] struct {
	id         string
	rec        T
	existed    bool
	lastSyncAt time.Time
}

func (e *Engine[T]) snapshot(id string) snapshot[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id]
	return snapshot[T]{id: id, rec: rec, existed: ok, lastSyncAt: e.lastSyncAt}
}

// apply writes rec to memory and best-effort to the cache. A failing local
// store never fails a mutation.
func (e *Engine[T]) apply(ctx context.Context, rec T) {
	e.mu.Lock()
	e.byID[rec.RecordID()] = rec
	e.mu.Unlock()
	if err := e.cfg.Cache.StoreOne(ctx, e.cfg.Month, e.cfg.Year, rec); err != nil {
		e.log.Warn(ctx, "cache write failed, continuing memory-only", "id", rec.RecordID(), "err", err)
	}
}

func (e *Engine[T]) remove(ctx context.Context, id string) {
	e.mu.Lock()
	delete(e.byID, id)
	e.mu.Unlock()
	if err := e.cfg.Cache.RemoveOne(ctx, e.cfg.Month, e.cfg.Year, id); err != nil {
		e.log.Warn(ctx, "cache remove failed, continuing memory-only", "id", id, "err", err)
	}
}

// push runs the remote write off the caller's goroutine and returns a wait
// function for its outcome. On failure the optimistic change is rolled back
// to the snapshot, lastSyncAt included.
func (e *Engine[T]) push(ctx context.Context, unlock func(), snap snapshot[T], fn func(ctx context.Context) error) func() error {
	errc := make(chan error, 1)
	pushCtx := context.WithoutCancel(ctx)

	e.pushes.Add(1)
	go func() {
		defer e.pushes.Done()
		defer unlock()

		err := fn(pushCtx)
		if err == nil {
			e.mu.Lock()
			e.lastSyncAt = e.now()
			e.mu.Unlock()
			e.broadcast(pushCtx)
			errc <- nil
			return
		}

		e.rollback(pushCtx, snap)
		if errors.Is(err, common.ErrAuthExpired) && e.cfg.AuthSignal != nil {
			e.cfg.AuthSignal(pushCtx)
		}
		errc <- fmt.Errorf("%s: push %s: %w", e.cfg.Collection, snap.id, err)
	}()

	var once sync.Once
	var result error
	return func() error {
		once.Do(func() { result = <-errc })
		return result
	}
}

func (e *Engine[T]) rollback(ctx context.Context, snap snapshot[T]) {
	e.met.Rollback(e.cfg.Collection)
	e.log.Warn(ctx, "remote push failed, rolling back", "id", snap.id)

	e.mu.Lock()
	if snap.existed {
		e.byID[snap.id] = snap.rec
	} else {
		delete(e.byID, snap.id)
	}
	e.lastSyncAt = snap.lastSyncAt
	e.mu.Unlock()

	var err error
	if snap.existed {
		err = e.cfg.Cache.StoreOne(ctx, e.cfg.Month, e.cfg.Year, snap.rec)
	} else {
		err = e.cfg.Cache.RemoveOne(ctx, e.cfg.Month, e.cfg.Year, snap.id)
	}
	if err != nil {
		e.log.Warn(ctx, "cache rollback failed", "id", snap.id, "err", err)
	}
}

// pushRow updates the remote row holding id, appending instead when the
// remote lost it.
func (e *Engine[T]) pushRow(ctx context.Context, id string, row []string) error {
	if err := e.ensureSheet(ctx); err != nil {
		return err
	}
	idx, err := e.cfg.Remote.FindRowByValue(ctx, e.cfg.Codec.Sheet, len(e.cfg.Codec.Header), 0, id)
	if errors.Is(err, common.ErrNotFound) {
		return e.cfg.Remote.AppendRow(ctx, e.cfg.Codec.Sheet, row)
	}
	if err != nil {
		return err
	}
	return e.cfg.Remote.UpdateRow(ctx, e.cfg.Codec.Sheet, idx, row)
}

// sync fetches the remote table, replaces memory and cache for this
// engine's partition, and stamps lastSyncAt. It never touches the public
// state; a background caller must not flip a Ready engine back to Syncing.
func (e *Engine[T]) sync(ctx context.Context) error {
	if err := e.ensureSheet(ctx); err != nil {
		return err
	}
	rows, err := e.cfg.Remote.ReadRows(ctx, e.cfg.Codec.Sheet, len(e.cfg.Codec.Header))
	if err != nil {
		if errors.Is(err, common.ErrAuthExpired) && e.cfg.AuthSignal != nil {
			e.cfg.AuthSignal(ctx)
		}
		return fmt.Errorf("%s: fetch: %w", e.cfg.Collection, err)
	}

	recs := make([]T, 0, len(rows))
	for _, row := range rows {
		rec := e.cfg.Codec.Decode(row)
		if rec.RecordID() == "" {
			continue // blank or half-deleted row
		}
		if e.cfg.PeriodOf != nil {
			m, y := e.cfg.PeriodOf(rec)
			if m != e.cfg.Month || y != e.cfg.Year {
				continue
			}
		}
		recs = append(recs, rec)
	}

	e.mu.Lock()
	e.byID = make(map[string]T, len(recs))
	for _, rec := range recs {
		e.byID[rec.RecordID()] = rec
	}
	e.lastSyncAt = e.now()
	e.mu.Unlock()

	if err := e.cfg.Cache.ReplaceAll(ctx, e.cfg.Month, e.cfg.Year, recs); err != nil {
		e.log.Warn(ctx, "cache replace failed, continuing memory-only", "err", err)
	}

	e.log.Debug(ctx, "synced", "records", len(recs))
	return nil
}

// ensureSheet memoizes success only, so a transient failure is retried by
// the next operation.
func (e *Engine[T]) ensureSheet(ctx context.Context) error {
	e.ensureMu.Lock()
	defer e.ensureMu.Unlock()
	if e.ensured {
		return nil
	}
	if err := e.cfg.Remote.EnsureSheet(ctx, e.cfg.Codec.Sheet, e.cfg.Codec.Header); err != nil {
		return err
	}
	e.ensured = true
	return nil
}

func (e *Engine[T]) lockRecord(id string) func() {
	e.mu.Lock()
	m, ok := e.recordMus[id]
	if !ok {
		m = &sync.Mutex{}
		e.recordMus[id] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (e *Engine[T]) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine[T]) broadcast(ctx context.Context) {
	if e.cfg.Notifier == nil {
		return
	}
	msg := notify.Message{Action: notify.ActionDataUpdated, Collection: e.cfg.Collection}
	if err := e.cfg.Notifier.Broadcast(ctx, msg); err != nil {
		e.log.Debug(ctx, "broadcast failed", "err", err)
	}
}
