package engine

import (
	"context"

	"github.com/Krishanhkr/SwiftHost/pkg/token"
)

type contextKey string

const (
	claimsContextKey      contextKey = "swifthost.claims"
	fingerprintContextKey contextKey = "swifthost.fingerprint"
	refreshHintContextKey contextKey = "swifthost.refresh"
)

func WithClaims(ctx context.Context, claims token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the resolved principal, if the request carried a
// valid token.
func ClaimsFromContext(ctx context.Context) (token.Claims, bool) {
	v := ctx.Value(claimsContextKey)
	if v == nil {
		return token.Claims{}, false
	}
	claims, ok := v.(token.Claims)
	return claims, ok
}

func WithFingerprint(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, fingerprintContextKey, fp)
}

func FingerprintFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(fingerprintContextKey).(string); ok {
		return v
	}
	return ""
}

func withRefreshHint(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshHintContextKey, true)
}

// RefreshHintFromContext reports whether the presented token is close to
// expiry.
func RefreshHintFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(refreshHintContextKey).(bool)
	return v
}
