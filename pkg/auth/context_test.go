package auth

import (
	"context"
	"testing"
)

func TestContextWithClaims_RoundTrip(t *testing.T) {
	claims := &VerifiedClaims{Subject: "client-service", Issuer: testIssuer}
	ctx := ContextWithClaims(context.Background(), claims)

	got, ok := ClaimsFromContext(ctx)
	if !ok {
		t.Fatal("ClaimsFromContext returned false, want true")
	}
	if got.Subject != "client-service" {
		t.Errorf("Subject = %q, want %q", got.Subject, "client-service")
	}
}

func TestClaimsFromContext_Empty(t *testing.T) {
	got, ok := ClaimsFromContext(context.Background())
	if ok || got != nil {
		t.Errorf("ClaimsFromContext on empty context = (%v, %v), want (nil, false)", got, ok)
	}
}

func TestClaimsFromContext_NilClaims(t *testing.T) {
	ctx := ContextWithClaims(context.Background(), nil)
	if _, ok := ClaimsFromContext(ctx); ok {
		t.Error("ClaimsFromContext returned true for nil claims")
	}
}

func TestContextWithAuthorities_RoundTrip(t *testing.T) {
	ctx := ContextWithAuthorities(context.Background(), NewAuthorities("get-access"))

	got, ok := AuthoritiesFromContext(ctx)
	if !ok {
		t.Fatal("AuthoritiesFromContext returned false, want true")
	}
	if !got.Has("get-access") {
		t.Error("authorities lost get-access")
	}
}

func TestAuthoritiesFromContext_Empty(t *testing.T) {
	if _, ok := AuthoritiesFromContext(context.Background()); ok {
		t.Error("AuthoritiesFromContext returned true on empty context")
	}
}

func TestWithResult(t *testing.T) {
	ctx := withResult(context.Background(), nil)
	if _, ok := ClaimsFromContext(ctx); ok {
		t.Error("nil result attached claims")
	}

	// Public routes produce a result without claims.
	ctx = withResult(context.Background(), &Result{Decision: Allow})
	if _, ok := ClaimsFromContext(ctx); ok {
		t.Error("public result attached claims")
	}

	res := &Result{
		Decision:    Allow,
		Claims:      &VerifiedClaims{Subject: "svc"},
		Authorities: NewAuthorities("get-access"),
	}
	ctx = withResult(context.Background(), res)
	if c, ok := ClaimsFromContext(ctx); !ok || c.Subject != "svc" {
		t.Errorf("ClaimsFromContext = (%v, %v), want svc", c, ok)
	}
	if a, ok := AuthoritiesFromContext(ctx); !ok || !a.Has("get-access") {
		t.Errorf("AuthoritiesFromContext = (%v, %v), want get-access", a, ok)
	}
}

func TestContextKeys_Independent(t *testing.T) {
	ctx := ContextWithAuthorities(context.Background(), NewAuthorities("a"))
	if _, ok := ClaimsFromContext(ctx); ok {
		t.Error("authorities leaked into the claims key")
	}
}
