package auth

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Deny is the zero value so an unset decision never grants access.
	Deny Decision = iota
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// PublicAuthority marks a route that needs no bearer token.
const PublicAuthority = "-"

// Requirement is the authority a route pattern demands.
type Requirement struct {
	Pattern   string
	Authority string
}

// Public reports whether the requirement needs no token.
func (r Requirement) Public() bool {
	return r.Authority == PublicAuthority
}

// RouteTable maps a route pattern to the authority it requires, e.g.
// "GET /orders/{id}" to "get-access" or "/grpc.health.v1.Health/Check" to
// "get-access". A value of [PublicAuthority] makes the route public.
// Patterns missing from the table are denied.
type RouteTable map[string]string

// Requirement returns the requirement registered for pattern.
func (t RouteTable) Requirement(pattern string) (Requirement, bool) {
	a, ok := t[pattern]
	if !ok {
		return Requirement{}, false
	}
	return Requirement{Pattern: pattern, Authority: a}, true
}

// Validate rejects entries with an empty pattern or authority.
func (t RouteTable) Validate() error {
	for p, a := range t {
		if p == "" {
			return sserr.New(sserr.CodeValidation, "auth: route table contains an empty pattern")
		}
		if a == "" {
			return sserr.Newf(sserr.CodeValidation, "auth: route %q has no authority (use %q for public routes)", p, PublicAuthority)
		}
	}
	return nil
}

// Authorize returns Allow iff the requirement's authority is in auths. An
// empty set is always denied; there are no wildcard authorities.
func Authorize(auths Authorities, req Requirement) Decision {
	if req.Authority == "" || auths.Len() == 0 {
		return Deny
	}
	if auths.Has(req.Authority) {
		return Allow
	}
	return Deny
}

// TokenVerifier verifies a bearer token for an expected issuer.
// [*Verifier] implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, token, expectedIssuer string) (*VerifiedClaims, error)
}

// GuardConfig configures a [Guard].
type GuardConfig struct {
	// Issuer is the only issuer whose tokens are accepted.
	Issuer string

	// Routes is the authority table. It is read-only once the guard is
	// built.
	Routes RouteTable

	// Mapper selects the claims authorities are read from. The zero value
	// reads "scope" and "roles".
	Mapper AuthorityMapper

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Guard runs the per-request authorization state machine:
//
//	extract bearer -> verify -> map claims -> authorize
//
// Each state either advances or ends the request with a 401 or 403 class
// error. The guard holds no per-request state.
type Guard struct {
	verifier  TokenVerifier
	issuer    string
	routes    RouteTable
	mapper    AuthorityMapper
	logger    *slog.Logger
	tracer    trace.Tracer
	decisions metric.Int64Counter
}

// NewGuard creates a guard that verifies tokens with verifier.
func NewGuard(verifier TokenVerifier, cfg GuardConfig) (*Guard, error) {
	if verifier == nil {
		return nil, sserr.New(sserr.CodeValidation, "auth: guard needs a verifier")
	}
	if cfg.Issuer == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: guard needs an expected issuer")
	}
	if err := cfg.Routes.Validate(); err != nil {
		return nil, err
	}

	routes := make(RouteTable, len(cfg.Routes))
	for p, a := range cfg.Routes {
		routes[p] = a
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	decisions, _ := mp.Meter(instrumentationName).Int64Counter("auth.decisions",
		metric.WithDescription("Authorization decisions, by outcome"))

	return &Guard{
		verifier:  verifier,
		issuer:    cfg.Issuer,
		routes:    routes,
		mapper:    cfg.Mapper,
		logger:    logger,
		tracer:    tp.Tracer(instrumentationName),
		decisions: decisions,
	}, nil
}

// Result describes a completed check.
type Result struct {
	Decision    Decision
	Requirement Requirement
	Claims      *VerifiedClaims
	Authorities Authorities
}

// IsPublic reports whether the route needs no token.
func (g *Guard) IsPublic(pattern string) bool {
	req, ok := g.routes.Requirement(pattern)
	return ok && req.Public()
}

// Check authorizes one request for pattern given its Authorization header.
//
// Public routes are allowed without looking at the header. Otherwise a
// missing or malformed header yields [sserr.ErrMissingCredentials] without
// invoking the verifier, a verification failure yields its AUTH_xxx error,
// and a Deny yields [sserr.Denied]. Unknown patterns are denied after
// authentication, so an unauthenticated caller cannot probe the table.
// The returned Result is non-nil whenever the token verified.
func (g *Guard) Check(ctx context.Context, authorizationHeader, pattern string) (res *Result, err error) {
	ctx, span := startSpan(ctx, g.tracer, "auth.Check", attribute.String("auth.route", pattern))
	defer func() {
		decision := Deny
		if res != nil {
			decision = res.Decision
		}
		span.SetAttributes(attribute.String("auth.decision", decision.String()))
		g.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("decision", decision.String()),
			attribute.String("code", sserr.GetCode(err).String()),
		))
		finishSpan(span, err)
		span.End()
	}()

	req, known := g.routes.Requirement(pattern)
	if known && req.Public() {
		return &Result{Decision: Allow, Requirement: req}, nil
	}

	token := ExtractBearerToken(authorizationHeader)
	if token == "" {
		return nil, sserr.ErrMissingCredentials
	}

	claims, err := g.verifier.Verify(ctx, token, g.issuer)
	if err != nil {
		g.logger.DebugContext(ctx, "auth: token rejected",
			"route", pattern,
			"code", sserr.GetCode(err),
			"error", err,
		)
		return nil, err
	}

	auths := g.mapper.Map(claims.Raw)
	res = &Result{Requirement: req, Claims: claims, Authorities: auths}
	if !known {
		g.logger.DebugContext(ctx, "auth: route not in authority table", "route", pattern)
		return res, sserr.Denied()
	}

	res.Decision = Authorize(auths, req)
	if res.Decision == Deny {
		g.logger.DebugContext(ctx, "auth: access denied",
			"route", pattern,
			"subject", claims.Subject,
		)
		return res, sserr.Denied()
	}
	return res, nil
}
