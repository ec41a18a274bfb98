// Package gridsync is the client-side synchronization core for a
// spreadsheet-backed productivity dataset: a durable local cache, an
// optimistic mutation engine per collection, and a token lifecycle manager,
// wired behind one composition root.
package gridsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver for the default store

	"github.com/akorchen/gridsync/auth"
	"github.com/akorchen/gridsync/cache"
	"github.com/akorchen/gridsync/config"
	"github.com/akorchen/gridsync/kvstore"
	"github.com/akorchen/gridsync/logging"
	"github.com/akorchen/gridsync/metrics"
	"github.com/akorchen/gridsync/notify"
	"github.com/akorchen/gridsync/records"
	"github.com/akorchen/gridsync/sheets"
	"github.com/akorchen/gridsync/syncer"
)

// Options carries the injectable edges of the core. Every field is optional
// except Provider; nil fields fall back to the built-in implementation.
type Options struct {
	Logger  logging.Logger
	Metrics metrics.Collector

	// Store overrides the local key-value backend. When nil the core opens
	// a sqlite database at cfg.StoreDSN and owns its lifecycle.
	Store kvstore.Store

	// Provider is the platform identity provider. Required.
	Provider auth.Provider

	// API overrides the remote tabular-store client. When nil the core
	// builds an HTTP client against cfg.APIBaseURL.
	API sheets.API

	// Notifier overrides the change broadcast. When nil the core runs an
	// in-process bus, reachable via Bus().
	Notifier notify.Notifier

	// HTTPClient is used by the built-in API client only.
	HTTPClient *http.Client
}

// Core owns the wired services and the per-collection sync engines.
type Core struct {
	cfg *config.Config
	log logging.Logger
	met metrics.Collector

	store     kvstore.Store
	ownsStore bool
	cache     *cache.Cache
	adapter   *sheets.Adapter
	bus       *notify.Bus // non-nil only when the core owns the notifier
	notifier  notify.Notifier

	Auth   *auth.Manager
	Habits *syncer.Engine[records.Habit]
	Tasks  *syncer.Engine[records.Task]

	api sheets.API

	mu             sync.Mutex
	transactions   map[string]*syncer.Engine[records.Transaction]
	periodAdapters map[string]*sheets.Adapter

	watchWG     sync.WaitGroup
	watchCancel []func()
}

// New wires the core. The caller still has to Login (or hold a cached
// grant) before remote operations succeed.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Core, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if opts.Provider == nil {
		return nil, errors.New("gridsync: Options.Provider is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}

	c := &Core{
		cfg:            cfg,
		log:            opts.Logger.With("component", "core"),
		met:            opts.Metrics,
		store:          opts.Store,
		transactions:   make(map[string]*syncer.Engine[records.Transaction]),
		periodAdapters: make(map[string]*sheets.Adapter),
	}

	if c.store == nil {
		s, err := kvstore.OpenSQLite(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		c.store = s
		c.ownsStore = true
	}
	c.cache = cache.New(c.store)

	c.Auth = auth.NewManager(opts.Provider, auth.Config{
		RequiredScopes:        cfg.RequiredScopes,
		RefreshAttempts:       cfg.RefreshAttempts,
		RefreshTimeout:        cfg.RefreshTimeout,
		ExpiryBuffer:          cfg.ExpiryBuffer,
		MinRefreshDelay:       cfg.MinRefreshDelay,
		MinValidationInterval: cfg.MinValidationInterval,
		Logger:                opts.Logger,
		Metrics:               opts.Metrics,
	})

	c.api = opts.API
	if c.api == nil {
		c.api = sheets.NewHTTPAPI(cfg.APIBaseURL, c.Auth, opts.HTTPClient)
	}
	c.adapter = sheets.NewAdapter(c.api, sheets.Config{
		SpreadsheetTitle: cfg.SpreadsheetTitle,
		RequestPacing:    cfg.RequestPacing,
		MaxRetries:       cfg.MaxRetries,
		BackoffBase:      cfg.BackoffBase,
		ReadCacheTTL:     cfg.ReadCacheTTL,
		Logger:           opts.Logger,
		Metrics:          opts.Metrics,
	})

	c.notifier = opts.Notifier
	if c.notifier == nil {
		c.bus = notify.NewBus()
		c.notifier = c.bus
	}

	c.Habits = syncer.New(syncer.Config[records.Habit]{
		Collection: records.HabitSheet,
		Codec: syncer.Codec[records.Habit]{
			Sheet:  records.HabitSheet,
			Header: records.HabitHeader,
			Encode: records.EncodeHabitRow,
			Decode: records.DecodeHabitRow,
		},
		Cache:        cache.NewPartitioned[records.Habit](c.cache, records.HabitSheet, cfg.CacheTTL),
		Remote:       c.adapter,
		SyncCooldown: cfg.SyncCooldown,
		AuthSignal:   c.authSignal,
		Notifier:     c.notifier,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
	})

	c.Tasks = syncer.New(syncer.Config[records.Task]{
		Collection: records.TaskSheet,
		Codec: syncer.Codec[records.Task]{
			Sheet:  records.TaskSheet,
			Header: records.TaskHeader,
			Encode: records.EncodeTaskRow,
			Decode: records.DecodeTaskRow,
		},
		Cache:        cache.NewPartitioned[records.Task](c.cache, records.TaskSheet, cfg.CacheTTL),
		Remote:       c.adapter,
		SyncCooldown: cfg.SyncCooldown,
		AuthSignal:   c.authSignal,
		Notifier:     c.notifier,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
	})

	return c, nil
}

// Transactions returns the engine serving one month's ledger, creating it on
// first use. The ledger lives in a per-period backing container
// ("<title> MM/YYYY"), so each period gets its own adapter; engines and
// adapters are memoized per period.
func (c *Core) Transactions(month time.Month, year int) *syncer.Engine[records.Transaction] {
	key := fmt.Sprintf("%02d%04d", int(month), year)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.transactions[key]; ok {
		return e
	}

	adapter := sheets.NewAdapter(c.api, sheets.Config{
		SpreadsheetTitle: fmt.Sprintf("%s %02d/%04d", c.cfg.SpreadsheetTitle, int(month), year),
		RequestPacing:    c.cfg.RequestPacing,
		MaxRetries:       c.cfg.MaxRetries,
		BackoffBase:      c.cfg.BackoffBase,
		ReadCacheTTL:     c.cfg.ReadCacheTTL,
		Logger:           c.log,
		Metrics:          c.met,
	})
	c.periodAdapters[key] = adapter

	e := syncer.New(syncer.Config[records.Transaction]{
		Collection: records.TransactionSheet,
		Codec: syncer.Codec[records.Transaction]{
			Sheet:  records.TransactionSheet,
			Header: records.TransactionHeader,
			Encode: records.EncodeTransactionRow,
			Decode: records.DecodeTransactionRow,
		},
		Cache: cache.NewPartitioned[records.Transaction](
			c.cache, records.TransactionSheet, c.cfg.CacheTTL),
		Remote:       adapter,
		Month:        month,
		Year:         year,
		PeriodOf:     records.Transaction.Period,
		SyncCooldown: c.cfg.SyncCooldown,
		AuthSignal:   c.authSignal,
		Notifier:     c.notifier,
		Logger:       c.log,
		Metrics:      c.met,
	})
	c.transactions[key] = e
	return e
}

// Bus returns the in-process notifier, or nil when one was injected.
func (c *Core) Bus() *notify.Bus {
	return c.bus
}

// Load brings the habit and task engines up. Transaction engines load on
// first access to their period.
func (c *Core) Load(ctx context.Context) error {
	if err := c.Habits.Load(ctx); err != nil {
		return fmt.Errorf("load habits: %w", err)
	}
	if err := c.Tasks.Load(ctx); err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	return nil
}

// WatchUpdates re-reads engine caches whenever another context announces a
// data change. It returns a stop function and requires the core-owned bus.
func (c *Core) WatchUpdates(ctx context.Context) (func(), error) {
	if c.bus == nil {
		return nil, errors.New("gridsync: WatchUpdates needs the core-owned bus")
	}
	sub, cancel := c.bus.Subscribe()

	c.watchWG.Add(1)
	go func() {
		defer c.watchWG.Done()
		for {
			select {
			case msg, ok := <-sub:
				if !ok {
					return
				}
				if msg.Action != notify.ActionDataUpdated {
					continue
				}
				c.reload(ctx, msg.Collection)
			case <-ctx.Done():
				return
			}
		}
	}()

	c.mu.Lock()
	c.watchCancel = append(c.watchCancel, cancel)
	c.mu.Unlock()
	return cancel, nil
}

func (c *Core) reload(ctx context.Context, collection string) {
	switch collection {
	case records.HabitSheet:
		if err := c.Habits.Load(ctx); err != nil {
			c.log.Warn(ctx, "habit reload failed", "err", err)
		}
	case records.TaskSheet:
		if err := c.Tasks.Load(ctx); err != nil {
			c.log.Warn(ctx, "task reload failed", "err", err)
		}
	case records.TransactionSheet:
		c.mu.Lock()
		engines := make([]*syncer.Engine[records.Transaction], 0, len(c.transactions))
		for _, e := range c.transactions {
			engines = append(engines, e)
		}
		c.mu.Unlock()
		for _, e := range engines {
			if err := e.Load(ctx); err != nil {
				c.log.Warn(ctx, "transaction reload failed", "err", err)
			}
		}
	}
}

// SweepCaches purges expired cache entries for every collection and reports
// how many were removed.
func (c *Core) SweepCaches(ctx context.Context) (int, error) {
	total := 0
	for _, prefix := range []string{records.HabitSheet, records.TaskSheet, records.TransactionSheet} {
		n, err := c.cache.Sweep(ctx, prefix)
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", prefix, err)
		}
		total += n
	}
	return total, nil
}

// authSignal reacts to an expired-authorization response from the remote by
// forcing a validation, which degrades the state and schedules recovery.
func (c *Core) authSignal(ctx context.Context) {
	if _, err := c.Auth.Validate(ctx, true); err != nil {
		c.log.Warn(ctx, "post-expiry validation failed", "err", err)
	}
}

// Close drains in-flight pushes, stops the adapter and watchers, and closes
// whatever the core owns.
func (c *Core) Close() error {
	c.mu.Lock()
	cancels := c.watchCancel
	c.watchCancel = nil
	engines := make([]*syncer.Engine[records.Transaction], 0, len(c.transactions))
	for _, e := range c.transactions {
		engines = append(engines, e)
	}
	adapters := make([]*sheets.Adapter, 0, len(c.periodAdapters))
	for _, a := range c.periodAdapters {
		adapters = append(adapters, a)
	}
	c.mu.Unlock()

	c.Habits.Close()
	c.Tasks.Close()
	for _, e := range engines {
		e.Close()
	}
	c.adapter.Close()
	for _, a := range adapters {
		a.Close()
	}

	for _, cancel := range cancels {
		cancel()
	}
	if c.bus != nil {
		c.bus.Close()
	}
	c.watchWG.Wait()

	if c.ownsStore {
		if closer, ok := c.store.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				return fmt.Errorf("close store: %w", err)
			}
		}
	}
	return nil
}
