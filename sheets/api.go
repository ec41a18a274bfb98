// Package sheets is the remote table adapter: a request-serializing,
// rate-limit-surviving client that maps record rows onto named tables inside
// a lazily provisioned spreadsheet-like container reached over HTTP.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/akorchen/gridsync/common"
)

// TokenSource supplies a live bearer token for outbound requests. The auth
// manager implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// API is the raw remote tabular-store surface. Implementations map HTTP
// failures onto the common sentinels: 429 to ErrRateLimited, 401 to
// ErrAuthExpired, a search/read miss to ErrNotFound.
type API interface {
	FindSpreadsheet(ctx context.Context, title string) (string, error)
	CreateSpreadsheet(ctx context.Context, title string) (string, error)
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	AddSheet(ctx context.Context, spreadsheetID, title string) error
	ReadRange(ctx context.Context, spreadsheetID, a1 string) ([][]string, error)
	WriteRange(ctx context.Context, spreadsheetID, a1 string, values [][]string) error
	AppendRow(ctx context.Context, spreadsheetID, sheet string, row []string) error
	DeleteRows(ctx context.Context, spreadsheetID, sheet string, start, count int) error
}

// HTTPAPI talks to the remote store's REST endpoints.
type HTTPAPI struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

func NewHTTPAPI(baseURL string, tokens TokenSource, client *http.Client) *HTTPAPI {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAPI{baseURL: baseURL, tokens: tokens, client: client}
}

type spreadsheetRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (a *HTTPAPI) FindSpreadsheet(ctx context.Context, title string) (string, error) {
	var out struct {
		Spreadsheets []spreadsheetRef `json:"spreadsheets"`
	}
	q := url.Values{"title": {title}}
	err := a.do(ctx, http.MethodGet, "/v1/spreadsheets:search?"+q.Encode(), nil, &out)
	if err != nil {
		return "", err
	}
	for _, s := range out.Spreadsheets {
		if s.Title == title {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("spreadsheet %q: %w", title, common.ErrNotFound)
}

func (a *HTTPAPI) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	var out spreadsheetRef
	body := map[string]string{"title": title}
	if err := a.do(ctx, http.MethodPost, "/v1/spreadsheets", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (a *HTTPAPI) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	var out struct {
		Sheets []struct {
			Title string `json:"title"`
		} `json:"sheets"`
	}
	path := "/v1/spreadsheets/" + url.PathEscape(spreadsheetID)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(out.Sheets))
	for _, s := range out.Sheets {
		titles = append(titles, s.Title)
	}
	return titles, nil
}

func (a *HTTPAPI) AddSheet(ctx context.Context, spreadsheetID, title string) error {
	body := map[string]any{
		"requests": []map[string]any{
			{"addSheet": map[string]any{"title": title}},
		},
	}
	path := "/v1/spreadsheets/" + url.PathEscape(spreadsheetID) + ":batchUpdate"
	return a.do(ctx, http.MethodPost, path, body, nil)
}

func (a *HTTPAPI) ReadRange(ctx context.Context, spreadsheetID, a1 string) ([][]string, error) {
	var out struct {
		Values [][]string `json:"values"`
	}
	path := "/v1/spreadsheets/" + url.PathEscape(spreadsheetID) +
		"/values/" + url.PathEscape(a1)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

func (a *HTTPAPI) WriteRange(ctx context.Context, spreadsheetID, a1 string, values [][]string) error {
	body := map[string]any{"values": values}
	path := "/v1/spreadsheets/" + url.PathEscape(spreadsheetID) +
		"/values/" + url.PathEscape(a1)
	return a.do(ctx, http.MethodPut, path, body, nil)
}

func (a *HTTPAPI) AppendRow(ctx context.Context, spreadsheetID, sheet string, row []string) error {
	body := map[string]any{"values": [][]string{row}}
	path := "/v1/spreadsheets/" + url.PathEscape(spreadsheetID) +
		"/values/" + url.PathEscape(sheet) + ":append"
	return a.do(ctx, http.MethodPost, path, body, nil)
}

func (a *HTTPAPI) DeleteRows(ctx context.Context, spreadsheetID, sheet string, start, count int) error {
	body := map[string]any{
		"requests": []map[string]any{
			{"deleteRows": map[string]any{
				"sheet": sheet,
				"start": start,
				"count": count,
			}},
		},
	}
	path := "/v1/spreadsheets/" + url.PathEscape(spreadsheetID) + ":batchUpdate"
	return a.do(ctx, http.MethodPost, path, body, nil)
}

// do performs one authenticated JSON round trip and maps the status code
// onto the error taxonomy.
func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s %s: %w", method, path, common.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, common.ErrAuthExpired)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, common.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
