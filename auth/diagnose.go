package auth

import "time"

// Severity ranks a diagnosed issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue codes, ordered worst first in a Diagnosis.
const (
	IssueNoAuth            = "no_auth"
	IssueTokenExpired      = "token_expired"
	IssueInsufficientScope = "insufficient_scope"
	IssueTokenExpiringSoon = "token_expiring_soon"
)

type Issue struct {
	Code     string
	Severity Severity
	Message  string
}

// Diagnosis is a severity-ranked report over the current auth state.
type Diagnosis struct {
	Issues []Issue

	// AutoRecoverable reports whether a forced reauthentication is likely to
	// fix the listed issues without user-visible interaction beyond a
	// consent prompt. A signed-out state is not auto-recoverable.
	AutoRecoverable bool
}

// Healthy reports whether no critical issue was found.
func (d Diagnosis) Healthy() bool {
	for _, i := range d.Issues {
		if i.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// Diagnose is a pure function over the manager's current state. It never
// touches the provider.
func (m *Manager) Diagnose() Diagnosis {
	m.mu.Lock()
	state := m.state
	tok := m.token
	m.mu.Unlock()
	now := m.now()

	var d Diagnosis

	if state == StateSignedOut || tok.Raw == "" {
		d.Issues = append(d.Issues, Issue{
			Code:     IssueNoAuth,
			Severity: SeverityCritical,
			Message:  "not signed in",
		})
		return d
	}

	expired := !tok.ExpiresAt.IsZero() && !now.Before(tok.ExpiresAt)
	if expired {
		d.Issues = append(d.Issues, Issue{
			Code:     IssueTokenExpired,
			Severity: SeverityCritical,
			Message:  "token expired at " + tok.ExpiresAt.Format(time.RFC3339),
		})
	}

	for _, s := range m.cfg.RequiredScopes {
		if !tok.HasScope(s) {
			d.Issues = append(d.Issues, Issue{
				Code:     IssueInsufficientScope,
				Severity: SeverityCritical,
				Message:  "missing scope " + s,
			})
		}
	}

	if !expired && !tok.ExpiresAt.IsZero() && tok.ExpiresAt.Sub(now) < m.cfg.ExpiryBuffer {
		d.Issues = append(d.Issues, Issue{
			Code:     IssueTokenExpiringSoon,
			Severity: SeverityWarning,
			Message:  "token expires at " + tok.ExpiresAt.Format(time.RFC3339),
		})
	}

	// Authenticated but expired or under-scoped: a forced reauth can fix it.
	d.AutoRecoverable = len(d.Issues) > 0
	return d
}
