package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/akorchen/gridsync/timex"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds. Zero values are treated as "not set" and leave
// the current Config value alone.
type jsonConfig struct {
	APIBaseURL            string         `json:"api_base_url"`
	SpreadsheetTitle      string         `json:"spreadsheet_title"`
	RequiredScopes        []string       `json:"required_scopes"`
	StoreDSN              string         `json:"store_dsn"`
	CacheTTL              timex.Duration `json:"cache_ttl"`
	SyncCooldown          timex.Duration `json:"sync_cooldown"`
	ReadCacheTTL          timex.Duration `json:"read_cache_ttl"`
	RequestPacing         timex.Duration `json:"request_pacing"`
	MaxRetries            int            `json:"max_retries"`
	BackoffBase           timex.Duration `json:"backoff_base"`
	RefreshAttempts       int            `json:"refresh_attempts"`
	RefreshTimeout        timex.Duration `json:"refresh_timeout"`
	ExpiryBuffer          timex.Duration `json:"expiry_buffer"`
	MinRefreshDelay       timex.Duration `json:"min_refresh_delay"`
	MinValidationInterval timex.Duration `json:"min_validation_interval"`
}

// parseJSON overlays cfg with values loaded from the JSON file named by the
// GRIDSYNC_CONFIG environment variable. A missing variable means no JSON is
// loaded; a named but unreadable or invalid file is an error.
func parseJSON(cfg *Config) error {
	path := os.Getenv("GRIDSYNC_CONFIG")
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if jc.APIBaseURL != "" {
		cfg.APIBaseURL = jc.APIBaseURL
	}
	if jc.SpreadsheetTitle != "" {
		cfg.SpreadsheetTitle = jc.SpreadsheetTitle
	}
	if len(jc.RequiredScopes) > 0 {
		cfg.RequiredScopes = jc.RequiredScopes
	}
	if jc.StoreDSN != "" {
		cfg.StoreDSN = jc.StoreDSN
	}
	overlayDuration(&cfg.CacheTTL, jc.CacheTTL)
	overlayDuration(&cfg.SyncCooldown, jc.SyncCooldown)
	overlayDuration(&cfg.ReadCacheTTL, jc.ReadCacheTTL)
	overlayDuration(&cfg.RequestPacing, jc.RequestPacing)
	if jc.MaxRetries > 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	overlayDuration(&cfg.BackoffBase, jc.BackoffBase)
	if jc.RefreshAttempts > 0 {
		cfg.RefreshAttempts = jc.RefreshAttempts
	}
	overlayDuration(&cfg.RefreshTimeout, jc.RefreshTimeout)
	overlayDuration(&cfg.ExpiryBuffer, jc.ExpiryBuffer)
	overlayDuration(&cfg.MinRefreshDelay, jc.MinRefreshDelay)
	overlayDuration(&cfg.MinValidationInterval, jc.MinValidationInterval)

	return nil
}

func overlayDuration(dst *time.Duration, src timex.Duration) {
	if src.Duration > 0 {
		*dst = src.Duration
	}
}
