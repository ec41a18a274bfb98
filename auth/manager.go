package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/akorchen/gridsync/common"
	"github.com/akorchen/gridsync/logging"
	"github.com/akorchen/gridsync/metrics"
)

// State names a position in the token lifecycle.
type State string

const (
	StateSignedOut      State = "signed_out"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated" // token held, not yet validated
	StateValidating     State = "validating"
	StateReady          State = "ready"
	StateDegraded       State = "degraded" // expired or missing scopes
)

// ValidationStatus is derived, never persisted; it is recomputed on demand
// or on schedule.
type ValidationStatus struct {
	IsValid           bool
	IsExpired         bool
	HasRequiredScopes bool
	GrantedScopes     []string
	ExpiresAt         time.Time
	Errors            []string
}

// Config tunes a Manager.
type Config struct {
	// RequiredScopes must all be granted before the manager reports Ready.
	RequiredScopes []string

	// RefreshAttempts bounds non-interactive refresh attempts per Refresh call.
	RefreshAttempts int

	// RefreshTimeout bounds a single refresh attempt.
	RefreshTimeout time.Duration

	// ExpiryBuffer is how long before expiry a scheduled refresh fires.
	ExpiryBuffer time.Duration

	// MinRefreshDelay floors the scheduled-refresh timer.
	MinRefreshDelay time.Duration

	// MinValidationInterval suppresses redundant validations unless forced.
	MinValidationInterval time.Duration

	// PostLoginValidationDelay postpones the first validation after login so
	// the provider has committed the grant before it is checked.
	PostLoginValidationDelay time.Duration

	Logger  logging.Logger
	Metrics metrics.Collector
}

func (c *Config) fillDefaults() {
	if c.RefreshAttempts <= 0 {
		c.RefreshAttempts = 3
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 30 * time.Second
	}
	if c.ExpiryBuffer <= 0 {
		c.ExpiryBuffer = 5 * time.Minute
	}
	if c.MinRefreshDelay <= 0 {
		c.MinRefreshDelay = 30 * time.Second
	}
	if c.MinValidationInterval <= 0 {
		c.MinValidationInterval = time.Minute
	}
	if c.PostLoginValidationDelay <= 0 {
		c.PostLoginValidationDelay = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
}

// Manager is the token lifecycle state machine. Construct it explicitly and
// inject it where needed; there is no package-level instance.
type Manager struct {
	provider Provider
	cfg      Config
	log      logging.Logger
	met      metrics.Collector
	now      func() time.Time

	refreshGroup singleflight.Group

	mu              sync.Mutex
	state           State
	token           Token
	lastValidation  time.Time
	lastStatus      ValidationStatus
	refreshTimer    *time.Timer
	validationTimer *time.Timer
}

func NewManager(provider Provider, cfg Config) *Manager {
	cfg.fillDefaults()
	return &Manager{
		provider: provider,
		cfg:      cfg,
		log:      cfg.Logger.With("component", "auth"),
		met:      cfg.Metrics,
		now:      time.Now,
		state:    StateSignedOut,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether the manager holds a valid token with every required
// scope and no validation is in flight.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady
}

// Login obtains a token interactively. On success the manager transitions to
// Authenticated and arms a delayed validation.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateAuthenticating
	m.mu.Unlock()

	tok, err := m.provider.GetToken(ctx, true)
	if err != nil {
		m.mu.Lock()
		m.state = StateSignedOut
		m.mu.Unlock()
		return fmt.Errorf("login: %w", err)
	}
	tok = IntrospectJWT(tok)

	m.mu.Lock()
	m.token = tok
	m.state = StateAuthenticated
	if m.validationTimer != nil {
		m.validationTimer.Stop()
	}
	m.validationTimer = time.AfterFunc(m.cfg.PostLoginValidationDelay, func() {
		_, _ = m.Validate(context.Background(), false)
	})
	m.mu.Unlock()

	m.log.Info(ctx, "signed in", "expires_at", tok.ExpiresAt)
	return nil
}

// Validate checks token liveness and scope coverage. A successful check
// within MinValidationInterval is reused unless force is set. The returned
// error reports only probe failures; a live but deficient token comes back
// as a status with IsValid or HasRequiredScopes false.
func (m *Manager) Validate(ctx context.Context, force bool) (ValidationStatus, error) {
	m.mu.Lock()
	if m.state == StateSignedOut || m.state == StateAuthenticating {
		m.mu.Unlock()
		return ValidationStatus{Errors: []string{"not authenticated"}},
			fmt.Errorf("validate: %w", common.ErrSignedOut)
	}
	if !force && !m.lastValidation.IsZero() &&
		m.now().Sub(m.lastValidation) < m.cfg.MinValidationInterval &&
		m.lastStatus.IsValid {
		status := m.lastStatus
		m.mu.Unlock()
		return status, nil
	}
	prev := m.state
	m.state = StateValidating
	m.mu.Unlock()

	// Liveness probe: a non-interactive grant lookup fails when the cached
	// grant is gone, and returns the freshest token when it is not.
	tok, err := m.provider.GetToken(ctx, false)
	if err != nil {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()
		return ValidationStatus{Errors: []string{err.Error()}},
			fmt.Errorf("validate: %w", errors.Join(common.ErrValidationFailed, err))
	}
	tok = IntrospectJWT(tok)

	status := m.computeStatus(tok)

	m.mu.Lock()
	m.token = tok
	m.lastValidation = m.now()
	m.lastStatus = status
	if status.IsValid && status.HasRequiredScopes {
		m.state = StateReady
	} else {
		m.state = StateDegraded
	}
	m.mu.Unlock()

	if status.IsValid {
		m.ScheduleRefresh()
	}
	m.log.Debug(ctx, "token validated",
		"valid", status.IsValid,
		"has_scopes", status.HasRequiredScopes,
		"expires_at", status.ExpiresAt)
	return status, nil
}

func (m *Manager) computeStatus(tok Token) ValidationStatus {
	status := ValidationStatus{
		GrantedScopes: tok.Scopes,
		ExpiresAt:     tok.ExpiresAt,
	}
	status.IsExpired = !tok.ExpiresAt.IsZero() && !m.now().Before(tok.ExpiresAt)
	status.IsValid = tok.Raw != "" && !status.IsExpired

	status.HasRequiredScopes = true
	for _, s := range m.cfg.RequiredScopes {
		if !tok.HasScope(s) {
			status.HasRequiredScopes = false
			status.Errors = append(status.Errors, "missing scope "+s)
		}
	}
	if status.IsExpired {
		status.Errors = append(status.Errors, "token expired")
	}
	return status
}

// Refresh obtains a new token non-interactively. Concurrent callers share a
// single in-flight refresh. Attempts are bounded and each races a timeout.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return nil, m.refresh(ctx)
	})
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateSignedOut {
		m.mu.Unlock()
		return fmt.Errorf("refresh: %w", common.ErrSignedOut)
	}
	old := m.token.Raw
	m.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.RefreshAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
		tok, err := m.attemptRefresh(attemptCtx, old)
		cancel()

		if err == nil {
			status := m.computeStatus(tok)

			m.mu.Lock()
			m.token = tok
			m.lastValidation = m.now()
			m.lastStatus = status
			if status.IsValid && status.HasRequiredScopes {
				m.state = StateReady
			} else {
				m.state = StateDegraded
			}
			m.mu.Unlock()

			m.ScheduleRefresh()
			m.met.TokenRefresh("ok")
			m.log.Info(ctx, "token refreshed", "attempt", attempt, "expires_at", tok.ExpiresAt)
			return nil
		}

		lastErr = err
		m.log.Warn(ctx, "token refresh attempt failed", "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	m.mu.Lock()
	m.state = StateDegraded
	m.mu.Unlock()
	m.met.TokenRefresh("failed")
	return fmt.Errorf("refresh: %w", errors.Join(common.ErrMaxRetriesExceeded, lastErr))
}

func (m *Manager) attemptRefresh(ctx context.Context, old string) (Token, error) {
	if old != "" {
		// Drop the cached grant so the provider mints a fresh token instead
		// of handing the stale one back.
		if err := m.provider.RemoveCachedToken(ctx, old); err != nil {
			return Token{}, err
		}
	}
	tok, err := m.provider.GetToken(ctx, false)
	if err != nil {
		return Token{}, err
	}
	return IntrospectJWT(tok), nil
}

// ScheduleRefresh arms a one-shot refresh timer at
// max(MinRefreshDelay, expiresAt - now - ExpiryBuffer). It is re-armed after
// every successful validation or refresh and cancelled on logout.
func (m *Manager) ScheduleRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateSignedOut {
		return
	}

	delay := m.cfg.MinRefreshDelay
	if !m.token.ExpiresAt.IsZero() {
		if until := m.token.ExpiresAt.Sub(m.now()) - m.cfg.ExpiryBuffer; until > delay {
			delay = until
		}
	}

	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	m.refreshTimer = time.AfterFunc(delay, func() {
		if err := m.Refresh(context.Background()); err != nil {
			m.log.Error(context.Background(), "scheduled refresh failed", "error", err)
		}
	})
}

// Logout clears all auth state and cancels pending timers. The cached grant
// is dropped so the next login starts clean.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	raw := m.token.Raw
	m.token = Token{}
	m.state = StateSignedOut
	m.lastValidation = time.Time{}
	m.lastStatus = ValidationStatus{}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if m.validationTimer != nil {
		m.validationTimer.Stop()
		m.validationTimer = nil
	}
	m.mu.Unlock()

	if raw != "" {
		if err := m.provider.RemoveCachedToken(ctx, raw); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	m.log.Info(ctx, "signed out")
	return nil
}

// Revoke signs out and additionally invalidates the token at the provider.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	raw := m.token.Raw
	m.mu.Unlock()

	if err := m.Logout(ctx); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	if err := m.provider.RevokeToken(ctx, raw); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	return nil
}

// Token implements the adapter's token source. An expired token triggers one
// refresh before giving up.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	tok := m.token
	state := m.state
	m.mu.Unlock()

	if state == StateSignedOut || tok.Raw == "" {
		return "", fmt.Errorf("token: %w", common.ErrSignedOut)
	}
	if tok.ExpiresAt.IsZero() || m.now().Before(tok.ExpiresAt) {
		return tok.Raw, nil
	}

	if err := m.Refresh(ctx); err != nil {
		return "", fmt.Errorf("token: %w", errors.Join(common.ErrAuthExpired, err))
	}
	m.mu.Lock()
	raw := m.token.Raw
	m.mu.Unlock()
	return raw, nil
}
