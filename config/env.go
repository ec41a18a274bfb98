package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays cfg with values from environment variables. A .env file
// in the working directory is loaded first when present; real environment
// variables win over .env entries (godotenv does not overwrite).
func parseEnv(cfg *Config) error {
	_ = godotenv.Load()

	if v := os.Getenv("GRIDSYNC_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("GRIDSYNC_SPREADSHEET_TITLE"); v != "" {
		cfg.SpreadsheetTitle = v
	}
	if v := os.Getenv("GRIDSYNC_REQUIRED_SCOPES"); v != "" {
		cfg.RequiredScopes = strings.Fields(v)
	}
	if v := os.Getenv("GRIDSYNC_STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	}

	for _, e := range []struct {
		name string
		dst  *time.Duration
	}{
		{"GRIDSYNC_CACHE_TTL", &cfg.CacheTTL},
		{"GRIDSYNC_SYNC_COOLDOWN", &cfg.SyncCooldown},
		{"GRIDSYNC_READ_CACHE_TTL", &cfg.ReadCacheTTL},
		{"GRIDSYNC_REQUEST_PACING", &cfg.RequestPacing},
		{"GRIDSYNC_BACKOFF_BASE", &cfg.BackoffBase},
		{"GRIDSYNC_REFRESH_TIMEOUT", &cfg.RefreshTimeout},
		{"GRIDSYNC_EXPIRY_BUFFER", &cfg.ExpiryBuffer},
		{"GRIDSYNC_MIN_REFRESH_DELAY", &cfg.MinRefreshDelay},
		{"GRIDSYNC_MIN_VALIDATION_INTERVAL", &cfg.MinValidationInterval},
	} {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
		*e.dst = d
	}

	for _, e := range []struct {
		name string
		dst  *int
	}{
		{"GRIDSYNC_MAX_RETRIES", &cfg.MaxRetries},
		{"GRIDSYNC_REFRESH_ATTEMPTS", &cfg.RefreshAttempts},
	} {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
		*e.dst = n
	}

	return nil
}
