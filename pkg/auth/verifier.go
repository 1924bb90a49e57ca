package auth

import (
	"context"
	"crypto"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// instrumentationName is the OpenTelemetry scope for auth spans and metrics.
const instrumentationName = "github.com/https756/spring-client-credentials-flow/pkg/auth"

// DefaultAlgorithms are the asymmetric signing algorithms accepted by
// default. Symmetric and "none" algorithms are never accepted.
var DefaultAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// KeySource resolves an issuer's signing key by key id. [*KeyResolver]
// implements it.
type KeySource interface {
	ResolveKey(ctx context.Context, issuer, keyID string) (crypto.PublicKey, error)
}

// VerifiedClaims is the result of a successful verification. It is
// derived per request and must not be cached beyond it.
type VerifiedClaims struct {
	Subject   string
	Issuer    string
	Expiry    time.Time
	NotBefore *time.Time
	Raw       map[string]any
}

// VerifierConfig configures a [Verifier].
type VerifierConfig struct {
	// Audience, when set, must be contained in the token's aud claim.
	Audience string `json:"audience,omitempty" yaml:"audience,omitempty" env:"AUDIENCE"`

	// ClockSkew widens the exp and nbf checks. Zero means a token is
	// expired the instant its exp passes.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"0s"`

	// Algorithms overrides [DefaultAlgorithms]. Only asymmetric algorithms
	// are honored.
	Algorithms []string `json:"algorithms,omitempty" yaml:"algorithms,omitempty" env:"ALGORITHMS"`

	TracerProvider trace.TracerProvider `json:"-" yaml:"-"`
}

// Validate checks the verifier settings.
func (c *VerifierConfig) Validate() error {
	if c.ClockSkew < 0 {
		return sserr.Newf(sserr.CodeValidation, "auth: clock skew must not be negative, got %s", c.ClockSkew)
	}
	for _, alg := range c.Algorithms {
		if !slices.Contains(DefaultAlgorithms, alg) {
			return sserr.Newf(sserr.CodeValidation, "auth: algorithm %q is not an accepted asymmetric algorithm", alg)
		}
	}
	return nil
}

// Verifier checks bearer tokens against an issuer's published keys. Apart
// from key resolution it is pure: the same token, keys and clock always
// give the same result.
type Verifier struct {
	keys      KeySource
	audience  string
	clockSkew time.Duration
	algs      []string
	parser    *jwt.Parser
	tracer    trace.Tracer
	now       func() time.Time
}

// NewVerifier creates a verifier that resolves keys through keys.
func NewVerifier(keys KeySource, cfg VerifierConfig) (*Verifier, error) {
	if keys == nil {
		return nil, sserr.New(sserr.CodeValidation, "auth: verifier needs a key source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Verifier{
		keys:      keys,
		audience:  cfg.Audience,
		clockSkew: cfg.ClockSkew,
		algs:      algs,
		parser:    jwt.NewParser(jwt.WithValidMethods(algs), jwt.WithoutClaimsValidation()),
		tracer:    tp.Tracer(instrumentationName),
		now:       time.Now,
	}, nil
}

// Verify checks token in a fixed order and returns the first failure:
//
//  1. structure (segments, JSON, algorithm, exp, iss types): MalformedToken
//  2. signing key by kid from expectedIssuer's key set: UnknownSigningKey
//  3. signature: InvalidSignature
//  4. iss equals expectedIssuer: IssuerMismatch; configured audience: AudienceMismatch
//  5. exp not passed: TokenExpired
//  6. nbf reached, if present: TokenNotYetValid
//
// Keys are always resolved from expectedIssuer, never from the token's
// own iss claim.
func (v *Verifier) Verify(ctx context.Context, token, expectedIssuer string) (claims *VerifiedClaims, err error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Verify",
		attribute.String("auth.expected_issuer", expectedIssuer),
	)
	defer func() {
		if err != nil {
			span.SetAttributes(attribute.String("auth.error_code", sserr.GetCode(err).String()))
		}
		finishSpan(span, err)
		span.End()
	}()

	if len(token) > MaxTokenSize {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token exceeds maximum size")
	}

	// Step 1: structure.
	mc := jwt.MapClaims{}
	parsed, parts, perr := v.parser.ParseUnverified(token, mc)
	if perr != nil {
		return nil, sserr.Wrap(perr, sserr.CodeMalformedToken, "auth: token is malformed")
	}
	alg := parsed.Method.Alg()
	if !slices.Contains(v.algs, alg) {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token algorithm is not accepted").
			WithDetail("alg", alg)
	}
	sig, derr := v.parser.DecodeSegment(parts[2])
	if derr != nil {
		return nil, sserr.Wrap(derr, sserr.CodeMalformedToken, "auth: token signature is not decodable")
	}
	if len(sig) == 0 {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token signature is empty")
	}
	exp, eerr := mc.GetExpirationTime()
	if eerr != nil || exp == nil {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token exp claim is missing or not numeric")
	}
	iss, ok := mc["iss"].(string)
	if !ok {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token iss claim is missing or not a string")
	}
	nbf, nerr := mc.GetNotBefore()
	if nerr != nil {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token nbf claim is not numeric")
	}

	// Step 2: key.
	kid, _ := parsed.Header["kid"].(string)
	span.SetAttributes(attribute.String("auth.kid", kid), attribute.String("auth.alg", alg))
	if kid == "" {
		return nil, sserr.New(sserr.CodeUnknownSigningKey, "auth: token header has no key id")
	}
	key, kerr := v.keys.ResolveKey(ctx, expectedIssuer, kid)
	if kerr != nil {
		if sserr.HasCode(kerr, sserr.CodeUnknownSigningKey) {
			return nil, kerr
		}
		return nil, sserr.Wrap(kerr, sserr.CodeUnknownSigningKey, "auth: signing key could not be resolved")
	}

	// Step 3: signature.
	if serr := parsed.Method.Verify(strings.Join(parts[:2], "."), sig, key); serr != nil {
		return nil, sserr.Wrap(serr, sserr.CodeInvalidSignature, "auth: token signature is invalid")
	}

	// Step 4: issuer, then audience.
	if iss != expectedIssuer {
		return nil, sserr.New(sserr.CodeIssuerMismatch, "auth: token issuer does not match")
	}
	if v.audience != "" {
		aud, _ := mc.GetAudience()
		if !slices.Contains(aud, v.audience) {
			return nil, sserr.New(sserr.CodeAudienceMismatch, "auth: token audience does not match")
		}
	}

	// Steps 5 and 6: time window.
	now := v.now()
	if now.After(exp.Add(v.clockSkew)) {
		return nil, sserr.New(sserr.CodeTokenExpired, "auth: token has expired")
	}
	claims = &VerifiedClaims{
		Issuer: iss,
		Expiry: exp.Time,
		Raw:    map[string]any(mc),
	}
	if nbf != nil {
		if now.Add(v.clockSkew).Before(nbf.Time) {
			return nil, sserr.New(sserr.CodeTokenNotYetValid, "auth: token is not yet valid")
		}
		nb := nbf.Time
		claims.NotBefore = &nb
	}
	claims.Subject, _ = mc.GetSubject()

	span.SetAttributes(attribute.String("auth.subject", claims.Subject))
	return claims, nil
}

// startSpan starts a span named name with attrs.
func startSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finishSpan records err on span and marks it as failed. It does not end
// the span.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
