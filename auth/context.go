// Package auth verifies operator access tokens and carries their claims through requests.
package auth

import (
	"context"
	"time"
)

type ctxKey int

const claimsKey ctxKey = iota

// Claims are the verified token fields operator endpoints rely on. Scope
// already includes any "permissions" granted by the issuer.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	Scope     string
	Raw       map[string]any
}

// Local reports whether the claims were injected by the development bypass.
func (c *Claims) Local() bool {
	return c != nil && c.Issuer == localIssuer
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// Operator returns the subject of the authenticated operator, or "" when the
// request carries no claims.
func Operator(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok && claims != nil {
		return claims.Subject
	}
	return ""
}
