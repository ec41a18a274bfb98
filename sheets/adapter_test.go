package sheets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akorchen/gridsync/common"
)

// fakeAPI is an in-memory API with programmable failures.
type fakeAPI struct {
	mu sync.Mutex

	spreadsheets map[string]string // title -> id
	sheetNames   map[string][]string
	rows         map[string][][]string // sheet -> data rows
	headers      map[string][]string

	created   int
	readCalls int

	// failures consumed once per call, per method
	rateLimitReads int
	authExpired    bool
	appendErr      error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		spreadsheets: make(map[string]string),
		sheetNames:   make(map[string][]string),
		rows:         make(map[string][][]string),
		headers:      make(map[string][]string),
	}
}

func (f *fakeAPI) FindSpreadsheet(ctx context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.spreadsheets[title]; ok {
		return id, nil
	}
	return "", common.ErrNotFound
}

func (f *fakeAPI) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	id := "sheet-created"
	f.spreadsheets[title] = id
	return id, nil
}

func (f *fakeAPI) SheetTitles(ctx context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sheetNames[id]...), nil
}

func (f *fakeAPI) AddSheet(ctx context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheetNames[id] = append(f.sheetNames[id], title)
	return nil
}

func (f *fakeAPI) ReadRange(ctx context.Context, id, a1 string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authExpired {
		return nil, common.ErrAuthExpired
	}
	if f.rateLimitReads > 0 {
		f.rateLimitReads--
		return nil, common.ErrRateLimited
	}
	f.readCalls++
	sheet, kind := parseTestRange(a1)
	if kind == "header" {
		if h, ok := f.headers[sheet]; ok {
			return [][]string{h}, nil
		}
		return nil, nil
	}
	return append([][]string(nil), f.rows[sheet]...), nil
}

func (f *fakeAPI) WriteRange(ctx context.Context, id, a1 string, values [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sheet, kind := parseTestRange(a1)
	if kind == "header" {
		f.headers[sheet] = values[0]
		return nil
	}
	// single-row update
	idx := rowIndexFromTestRange(a1)
	for len(f.rows[sheet]) <= idx {
		f.rows[sheet] = append(f.rows[sheet], nil)
	}
	f.rows[sheet][idx] = values[0]
	return nil
}

func (f *fakeAPI) AppendRow(ctx context.Context, id, sheet string, row []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		err := f.appendErr
		return err
	}
	f.rows[sheet] = append(f.rows[sheet], row)
	return nil
}

func (f *fakeAPI) DeleteRows(ctx context.Context, id, sheet string, start, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := start - 1 // header occupies physical row 0
	if idx < 0 || idx >= len(f.rows[sheet]) {
		return common.ErrNotFound
	}
	f.rows[sheet] = append(f.rows[sheet][:idx], f.rows[sheet][idx+count:]...)
	return nil
}

// parseTestRange understands the ranges the adapter produces:
// "sheet!A1:X1" is the header, everything else is data.
func parseTestRange(a1 string) (sheet, kind string) {
	for i := range a1 {
		if a1[i] == '!' {
			sheet = a1[:i]
			rest := a1[i+1:]
			if rest[1] == '1' && (len(rest) < 3 || rest[2] == ':') {
				return sheet, "header"
			}
			return sheet, "data"
		}
	}
	return a1, "data"
}

func rowIndexFromTestRange(a1 string) int {
	// ranges look like "sheet!A4:I4": physical row 4 -> logical index 2
	var row int
	for i := len(a1) - 1; i >= 0; i-- {
		if a1[i] >= '0' && a1[i] <= '9' {
			continue
		}
		for j := i + 1; j < len(a1); j++ {
			row = row*10 + int(a1[j]-'0')
		}
		break
	}
	return row - 2
}

func newTestAdapter(t *testing.T, api API) *Adapter {
	t.Helper()
	a := NewAdapter(api, Config{
		SpreadsheetTitle: "Productivity Data 03/2026",
		RequestPacing:    time.Millisecond,
		MaxRetries:       3,
		BackoffBase:      time.Millisecond,
		ReadCacheTTL:     30 * time.Second,
	})
	t.Cleanup(a.Close)
	return a
}

func TestAdapter_EnsureSpreadsheet_Idempotent(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	a := newTestAdapter(t, api)

	id1, err := a.EnsureSpreadsheet(ctx)
	require.NoError(t, err)
	id2, err := a.EnsureSpreadsheet(ctx)
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.Equal(t, 1, api.created)
}

func TestAdapter_EnsureSpreadsheet_FindsExisting(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.spreadsheets["Productivity Data 03/2026"] = "existing"
	a := newTestAdapter(t, api)

	id, err := a.EnsureSpreadsheet(ctx)
	require.NoError(t, err)
	require.Equal(t, "existing", id)
	require.Equal(t, 0, api.created)
}

func TestAdapter_EnsureSheet_CreatesOnceKeepsExisting(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	a := newTestAdapter(t, api)

	header := []string{"id", "name", "goal"}
	require.NoError(t, a.EnsureSheet(ctx, "habits", header))
	require.NoError(t, a.EnsureSheet(ctx, "habits", header))

	require.Equal(t, []string{"habits"}, api.sheetNames["sheet-created"])
	require.Equal(t, header, api.headers["habits"])
}

func TestAdapter_AppendReadUpdateDelete(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	a := newTestAdapter(t, api)

	require.NoError(t, a.AppendRow(ctx, "habits", []string{"h1", "water"}))
	require.NoError(t, a.AppendRow(ctx, "habits", []string{"h2", "walk"}))

	rows, err := a.ReadRows(ctx, "habits", 2)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"h1", "water"}, {"h2", "walk"}}, rows)

	require.NoError(t, a.UpdateRow(ctx, "habits", 1, []string{"h2", "run"}))
	rows, err = a.ReadRows(ctx, "habits", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"h2", "run"}, rows[1])

	require.NoError(t, a.DeleteRow(ctx, "habits", 0))
	rows, err = a.ReadRows(ctx, "habits", 2)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"h2", "run"}}, rows)
}

func TestAdapter_ReadCache_HitAndInvalidation(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	a := newTestAdapter(t, api)

	require.NoError(t, a.AppendRow(ctx, "habits", []string{"h1"}))

	_, err := a.ReadRows(ctx, "habits", 1)
	require.NoError(t, err)
	before := api.readCalls

	// second read is served from the cache
	_, err = a.ReadRows(ctx, "habits", 1)
	require.NoError(t, err)
	require.Equal(t, before, api.readCalls)

	// a write invalidates the sheet's entry
	require.NoError(t, a.AppendRow(ctx, "habits", []string{"h2"}))
	rows, err := a.ReadRows(ctx, "habits", 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Greater(t, api.readCalls, before)
}

func TestAdapter_RateLimitRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.rows["habits"] = [][]string{{"h1"}}
	api.rateLimitReads = 2 // fewer than max retries
	a := newTestAdapter(t, api)

	rows, err := a.ReadRows(ctx, "habits", 1)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"h1"}}, rows)
	// exactly one successful read reached the store
	require.Equal(t, 1, api.readCalls)
}

func TestAdapter_RateLimitExhaustionSurfaces(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.rateLimitReads = 10
	a := newTestAdapter(t, api)

	_, err := a.ReadRows(ctx, "habits", 1)
	require.True(t, errors.Is(err, common.ErrRateLimited))
}

func TestAdapter_AuthExpiredNotRetried(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.authExpired = true
	a := newTestAdapter(t, api)

	_, err := a.ReadRows(ctx, "habits", 1)
	require.True(t, errors.Is(err, common.ErrAuthExpired))
	// the read cache stays empty; no value was cached on failure
	_, ok := a.readCache["habits"]
	require.False(t, ok)
}

func TestAdapter_FindRowByValue(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.rows["habits"] = [][]string{{"h1", "water"}, {"h2", "walk"}}
	a := newTestAdapter(t, api)

	idx, err := a.FindRowByValue(ctx, "habits", 2, 0, "h2")
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	_, err = a.FindRowByValue(ctx, "habits", 2, 0, "h9")
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestAdapter_ClosedRejectsWork(t *testing.T) {
	api := newFakeAPI()
	a := NewAdapter(api, Config{
		SpreadsheetTitle: "x",
		RequestPacing:    time.Millisecond,
	})
	a.Close()

	_, err := a.ReadRows(context.Background(), "habits", 1)
	require.True(t, errors.Is(err, ErrClosed))
}

func TestAdapter_RequestsAreSerialized(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	a := newTestAdapter(t, api)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.AppendRow(ctx, "habits", []string{"h"})
		}()
	}
	wg.Wait()

	rows, err := a.ReadRows(ctx, "habits", 1)
	require.NoError(t, err)
	require.Len(t, rows, 8)
}
