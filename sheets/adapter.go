package sheets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/akorchen/gridsync/common"
	"github.com/akorchen/gridsync/logging"
	"github.com/akorchen/gridsync/metrics"
)

// ErrClosed is returned for operations enqueued after Close.
var ErrClosed = errors.New("adapter closed")

// Config tunes one Adapter instance.
type Config struct {
	// SpreadsheetTitle names the backing container this adapter owns.
	SpreadsheetTitle string

	// RequestPacing is the minimum gap between consecutive remote requests.
	RequestPacing time.Duration

	// MaxRetries bounds backoff retries after rate-limit responses.
	MaxRetries int

	// BackoffBase is the first retry delay; subsequent delays double and are
	// capped at 8x the base, with jitter.
	BackoffBase time.Duration

	// ReadCacheTTL bounds the per-sheet read cache.
	ReadCacheTTL time.Duration

	Logger  logging.Logger
	Metrics metrics.Collector
}

func (c *Config) fillDefaults() {
	if c.RequestPacing <= 0 {
		c.RequestPacing = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.ReadCacheTTL <= 0 {
		c.ReadCacheTTL = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
}

type job struct {
	ctx   context.Context
	sheet string
	fn    func(ctx context.Context) error
	errc  chan error
}

type readEntry struct {
	rows [][]string
	at   time.Time
}

// Adapter serializes all remote requests of one backing container through a
// single FIFO queue, paces them, retries rate-limit responses with capped
// jittered exponential backoff, and keeps a short-lived per-sheet read
// cache. An authorization-expired response is never retried here; it
// surfaces immediately so the token lifecycle can react.
type Adapter struct {
	api     API
	cfg     Config
	log     logging.Logger
	met     metrics.Collector
	limiter *rate.Limiter
	now     func() time.Time

	jobs       chan *job
	closed     chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once

	mu            sync.Mutex
	spreadsheetID string
	readCache     map[string]readEntry
}

func NewAdapter(api API, cfg Config) *Adapter {
	cfg.fillDefaults()
	a := &Adapter{
		api:        api,
		cfg:        cfg,
		log:        cfg.Logger.With("component", "sheets", "container", cfg.SpreadsheetTitle),
		met:        cfg.Metrics,
		limiter:    rate.NewLimiter(rate.Every(cfg.RequestPacing), 1),
		now:        time.Now,
		jobs:       make(chan *job),
		closed:     make(chan struct{}),
		workerDone: make(chan struct{}),
		readCache:  make(map[string]readEntry),
	}
	go a.run()
	return a
}

// Close stops the request worker. In-flight work finishes; queued callers
// get ErrClosed.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() { close(a.closed) })
	<-a.workerDone
}

// EnsureSpreadsheet locates or creates the backing container. The id is
// memoized, and find-before-create keeps the operation idempotent: a second
// call always returns the same id and never creates a duplicate.
func (a *Adapter) EnsureSpreadsheet(ctx context.Context) (string, error) {
	a.mu.Lock()
	id := a.spreadsheetID
	a.mu.Unlock()
	if id != "" {
		return id, nil
	}

	err := a.do(ctx, "", func(ctx context.Context) error {
		found, err := a.api.FindSpreadsheet(ctx, a.cfg.SpreadsheetTitle)
		if err == nil {
			id = found
			return nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		id, err = a.api.CreateSpreadsheet(ctx, a.cfg.SpreadsheetTitle)
		return err
	})
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.spreadsheetID = id
	a.mu.Unlock()
	return id, nil
}

// EnsureSheet guarantees the named sheet exists with the expected header
// row. Existing sheets and their headers are left untouched.
func (a *Adapter) EnsureSheet(ctx context.Context, sheet string, header []string) error {
	id, err := a.EnsureSpreadsheet(ctx)
	if err != nil {
		return err
	}

	var titles []string
	err = a.do(ctx, sheet, func(ctx context.Context) error {
		titles, err = a.api.SheetTitles(ctx, id)
		return err
	})
	if err != nil {
		return err
	}

	exists := false
	for _, t := range titles {
		if t == sheet {
			exists = true
			break
		}
	}

	if !exists {
		if err := a.do(ctx, sheet, func(ctx context.Context) error {
			return a.api.AddSheet(ctx, id, sheet)
		}); err != nil {
			return err
		}
	}

	var headerRow [][]string
	if err := a.do(ctx, sheet, func(ctx context.Context) error {
		headerRow, err = a.api.ReadRange(ctx, id, headerRange(sheet, len(header)))
		return err
	}); err != nil {
		return err
	}
	if len(headerRow) > 0 && len(headerRow[0]) > 0 {
		return nil
	}

	return a.do(ctx, sheet, func(ctx context.Context) error {
		return a.api.WriteRange(ctx, id, headerRange(sheet, len(header)), [][]string{header})
	})
}

// ReadRows returns all data rows of the sheet (header excluded), each padded
// to width cells. Results are served from the per-sheet read cache while it
// is fresh.
func (a *Adapter) ReadRows(ctx context.Context, sheet string, width int) ([][]string, error) {
	a.mu.Lock()
	entry, ok := a.readCache[sheet]
	fresh := ok && a.now().Sub(entry.at) < a.cfg.ReadCacheTTL
	a.mu.Unlock()
	if fresh {
		a.met.ReadCacheHit(sheet)
		return entry.rows, nil
	}
	a.met.ReadCacheMiss(sheet)

	id, err := a.EnsureSpreadsheet(ctx)
	if err != nil {
		return nil, err
	}

	var raw [][]string
	err = a.do(ctx, sheet, func(ctx context.Context) error {
		raw, err = a.api.ReadRange(ctx, id, dataRange(sheet, width))
		return err
	})
	if err != nil {
		return nil, err
	}

	rows := make([][]string, len(raw))
	for i, r := range raw {
		rows[i] = padRow(r, width)
	}

	a.mu.Lock()
	a.readCache[sheet] = readEntry{rows: rows, at: a.now()}
	a.mu.Unlock()
	return rows, nil
}

// AppendRow appends one row after the last data row of the sheet.
func (a *Adapter) AppendRow(ctx context.Context, sheet string, row []string) error {
	id, err := a.EnsureSpreadsheet(ctx)
	if err != nil {
		return err
	}
	err = a.do(ctx, sheet, func(ctx context.Context) error {
		return a.api.AppendRow(ctx, id, sheet, row)
	})
	if err != nil {
		return err
	}
	a.invalidate(sheet)
	return nil
}

// UpdateRow overwrites the data row at the 0-based logical index. The
// physical range accounts for the header row and the store's 1-based origin.
func (a *Adapter) UpdateRow(ctx context.Context, sheet string, index int, row []string) error {
	if index < 0 {
		return fmt.Errorf("row index %d out of range", index)
	}
	id, err := a.EnsureSpreadsheet(ctx)
	if err != nil {
		return err
	}
	err = a.do(ctx, sheet, func(ctx context.Context) error {
		return a.api.WriteRange(ctx, id, rowRange(sheet, index, len(row)), [][]string{row})
	})
	if err != nil {
		return err
	}
	a.invalidate(sheet)
	return nil
}

// DeleteRow removes the data row at the 0-based logical index.
func (a *Adapter) DeleteRow(ctx context.Context, sheet string, index int) error {
	if index < 0 {
		return fmt.Errorf("row index %d out of range", index)
	}
	id, err := a.EnsureSpreadsheet(ctx)
	if err != nil {
		return err
	}
	err = a.do(ctx, sheet, func(ctx context.Context) error {
		// physical grid rows are 0-based with the header at 0
		return a.api.DeleteRows(ctx, id, sheet, index+1, 1)
	})
	if err != nil {
		return err
	}
	a.invalidate(sheet)
	return nil
}

// FindRowByValue scans one 0-based column for an exact match and returns the
// 0-based logical row index, or ErrNotFound.
func (a *Adapter) FindRowByValue(ctx context.Context, sheet string, width, column int, value string) (int, error) {
	rows, err := a.ReadRows(ctx, sheet, width)
	if err != nil {
		return -1, err
	}
	for i, row := range rows {
		if column < len(row) && row[column] == value {
			return i, nil
		}
	}
	return -1, fmt.Errorf("row with %q in column %d: %w", value, column, common.ErrNotFound)
}

// invalidate drops the sheet's read cache entry after any write.
func (a *Adapter) invalidate(sheet string) {
	a.mu.Lock()
	delete(a.readCache, sheet)
	a.mu.Unlock()
}

// do enqueues fn on the FIFO queue and waits for its result.
func (a *Adapter) do(ctx context.Context, sheet string, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, sheet: sheet, fn: fn, errc: make(chan error, 1)}
	select {
	case a.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.closed:
		return ErrClosed
	}
	select {
	case err := <-j.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single request worker; it guarantees no two requests of this
// adapter race against the backing store.
func (a *Adapter) run() {
	defer close(a.workerDone)
	for {
		select {
		case j := <-a.jobs:
			j.errc <- a.dispatch(j)
		case <-a.closed:
			for {
				select {
				case j := <-a.jobs:
					j.errc <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

// dispatch paces and executes one request, retrying only rate-limit
// responses.
func (a *Adapter) dispatch(j *job) error {
	backoff := retry.WithJitter(a.cfg.BackoffBase/4,
		retry.WithMaxRetries(uint64(a.cfg.MaxRetries),
			retry.WithCappedDuration(8*a.cfg.BackoffBase,
				retry.NewExponential(a.cfg.BackoffBase))))

	err := retry.Do(j.ctx, backoff, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		err := j.fn(ctx)
		if errors.Is(err, common.ErrRateLimited) {
			a.met.RateLimitRetry(j.sheet)
			a.log.Warn(ctx, "rate limited, backing off", "sheet", j.sheet)
			return retry.RetryableError(err)
		}
		return err
	})

	a.met.RemoteRequest(j.sheet, outcome(err))
	switch {
	case err == nil:
	case errors.Is(err, common.ErrAuthExpired):
		a.log.Warn(j.ctx, "authorization expired", "sheet", j.sheet)
	case errors.Is(err, common.ErrRateLimited):
		a.log.Error(j.ctx, "rate-limit retries exhausted", "sheet", j.sheet)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, common.ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
