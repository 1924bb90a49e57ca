package auth

import (
	"context"
)

type contextKey int

const (
	claimsKey contextKey = iota
	authoritiesKey
)

// ContextWithClaims attaches verified claims to ctx. The HTTP and gRPC
// guards call it once the token verified.
func ContextWithClaims(ctx context.Context, claims *VerifiedClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the verified claims attached to ctx. It never
// returns non-nil claims with false.
func ClaimsFromContext(ctx context.Context) (*VerifiedClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*VerifiedClaims)
	return claims, ok && claims != nil
}

// ContextWithAuthorities attaches the caller's authorities to ctx.
func ContextWithAuthorities(ctx context.Context, auths Authorities) context.Context {
	return context.WithValue(ctx, authoritiesKey, auths)
}

// AuthoritiesFromContext returns the authorities attached to ctx.
func AuthoritiesFromContext(ctx context.Context) (Authorities, bool) {
	auths, ok := ctx.Value(authoritiesKey).(Authorities)
	return auths, ok
}

func withResult(ctx context.Context, res *Result) context.Context {
	if res == nil || res.Claims == nil {
		return ctx
	}
	ctx = ContextWithClaims(ctx, res.Claims)
	return ContextWithAuthorities(ctx, res.Authorities)
}
