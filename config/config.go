// Package config holds runtime settings for the gridsync core. The library
// has no command line, so values come from defaults, an optional JSON file,
// and environment variables, in that order (later sources win).
package config

import "time"

// Config holds runtime settings for the sync core.
type Config struct {
	// APIBaseURL is the root of the remote tabular-store HTTP API.
	APIBaseURL string

	// SpreadsheetTitle is the base title of the backing container; the
	// adapter appends the period ("... 03/2026") for partitioned domains.
	SpreadsheetTitle string

	// RequiredScopes are the permission grants the token must carry before
	// the auth manager reports Ready.
	RequiredScopes []string

	// StoreDSN is the sqlite DSN for the durable key-value store backend.
	// Ignored when the consumer injects its own kvstore.Store.
	StoreDSN string

	// CacheTTL bounds how long a cached record set is served without any
	// remote confirmation.
	CacheTTL time.Duration

	// SyncCooldown is the minimum elapsed time since the last successful
	// sync before a background refresh is scheduled again.
	SyncCooldown time.Duration

	// ReadCacheTTL bounds the adapter's per-table read cache.
	ReadCacheTTL time.Duration

	// RequestPacing is the minimum gap between consecutive remote requests.
	RequestPacing time.Duration

	// MaxRetries bounds backoff retries on rate-limit responses.
	MaxRetries int

	// BackoffBase is the first backoff delay after a rate-limit response.
	BackoffBase time.Duration

	// RefreshAttempts bounds non-interactive token refresh attempts.
	RefreshAttempts int

	// RefreshTimeout bounds a single refresh attempt.
	RefreshTimeout time.Duration

	// ExpiryBuffer is how long before token expiry a refresh is scheduled.
	ExpiryBuffer time.Duration

	// MinRefreshDelay is the floor for the scheduled-refresh timer.
	MinRefreshDelay time.Duration

	// MinValidationInterval suppresses redundant token validations.
	MinValidationInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "https://sheets.googleapis.com"
	c.SpreadsheetTitle = "Productivity Data"
	c.RequiredScopes = []string{
		"https://www.googleapis.com/auth/spreadsheets",
		"https://www.googleapis.com/auth/drive.file",
	}
	c.StoreDSN = "gridsync.db"
	c.CacheTTL = 24 * time.Hour
	c.SyncCooldown = 30 * time.Second
	c.ReadCacheTTL = 30 * time.Second
	c.RequestPacing = 500 * time.Millisecond
	c.MaxRetries = 3
	c.BackoffBase = time.Second
	c.RefreshAttempts = 3
	c.RefreshTimeout = 30 * time.Second
	c.ExpiryBuffer = 5 * time.Minute
	c.MinRefreshDelay = 30 * time.Second
	c.MinValidationInterval = time.Minute
}

// Load constructs a Config, applies defaults, then overlays values from a
// JSON file (path taken from GRIDSYNC_CONFIG) and environment variables.
// Later sources take precedence over earlier ones.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
