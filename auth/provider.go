// Package auth owns the authentication/authorization lifecycle: sign-in,
// scope verification, scheduled refresh, diagnosis, and teardown. It talks
// to the platform identity provider and supplies bearer tokens to the
// remote table adapter.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is a bearer credential plus whatever the provider disclosed about
// it. ExpiresAt and Scopes may be zero/nil when the provider returns an
// opaque token; IntrospectJWT fills them when the raw token is a JWT.
type Token struct {
	Raw       string
	ExpiresAt time.Time
	Scopes    []string
}

// Provider is the platform identity provider. Interactive GetToken may show
// a consent UI; non-interactive GetToken fails when no valid grant exists.
type Provider interface {
	GetToken(ctx context.Context, interactive bool) (Token, error)
	RemoveCachedToken(ctx context.Context, raw string) error
	RevokeToken(ctx context.Context, raw string) error
}

// IntrospectJWT fills ExpiresAt and Scopes from the token's own claims when
// the raw value parses as a JWT. The signature is deliberately not checked:
// the provider is the validation authority, this is client-side bookkeeping
// only. Opaque tokens are returned unchanged.
func IntrospectJWT(t Token) Token {
	parsed, _, err := jwt.NewParser().ParseUnverified(t.Raw, jwt.MapClaims{})
	if err != nil {
		return t
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return t
	}

	if t.ExpiresAt.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			t.ExpiresAt = exp.Time
		}
	}
	if len(t.Scopes) == 0 {
		if scope, ok := claims["scope"].(string); ok {
			t.Scopes = strings.Fields(scope)
		}
	}
	return t
}

// HasScope reports whether the token carries the named scope grant.
func (t Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
