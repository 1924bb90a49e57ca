package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// HTTPClient abstracts the client used for discovery and key set fetches.
// [http.Client] satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxMetadataSize bounds discovery and JWKS response bodies.
const maxMetadataSize = 1 << 20

// KeySet is an immutable snapshot of one issuer's published signing keys.
// A refresh publishes a new KeySet; existing snapshots are never modified,
// so a key id maps to the same material for the lifetime of a generation.
type KeySet struct {
	Issuer     string
	JWKSURI    string
	Keys       map[string]crypto.PublicKey
	FetchedAt  time.Time
	TTL        time.Duration
	Generation uint64
}

// Expired reports whether the snapshot is older than its TTL at now.
func (ks *KeySet) Expired(now time.Time) bool {
	return !now.Before(ks.FetchedAt.Add(ks.TTL))
}

// ResolverConfig configures a [KeyResolver].
type ResolverConfig struct {
	// TTL is how long a fetched key set is served before it is refreshed.
	TTL time.Duration `json:"ttl" yaml:"ttl" env:"KEY_TTL" envDefault:"5m"`

	// FetchTimeout bounds one discovery plus key set fetch. It applies even
	// when the request that triggered the refresh has already given up.
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"KEY_FETCH_TIMEOUT" envDefault:"10s"`

	// JWKSURLs maps an issuer to an explicit key set URL, skipping OIDC
	// discovery for that issuer.
	JWKSURLs map[string]string `json:"jwks_urls,omitempty" yaml:"jwks_urls,omitempty" env:"JWKS_URLS"`

	// HTTPClient performs discovery and key set requests. Defaults to an
	// http.Client with FetchTimeout.
	HTTPClient HTTPClient `json:"-" yaml:"-"`

	Logger         *slog.Logger         `json:"-" yaml:"-"`
	TracerProvider trace.TracerProvider `json:"-" yaml:"-"`
	MeterProvider  metric.MeterProvider `json:"-" yaml:"-"`
}

// Validate checks the resolver settings.
func (c *ResolverConfig) Validate() error {
	if c.TTL <= 0 {
		return sserr.Newf(sserr.CodeValidation, "auth: key TTL must be positive, got %s", c.TTL)
	}
	if c.FetchTimeout <= 0 {
		return sserr.Newf(sserr.CodeValidation, "auth: key fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	for issuer, u := range c.JWKSURLs {
		if issuer == "" || u == "" {
			return sserr.New(sserr.CodeValidation, "auth: JWKS URL overrides need an issuer and a URL")
		}
	}
	return nil
}

// KeyResolver resolves signing keys by issuer and key id. Each issuer has
// its own snapshot and its own refresh slot: concurrent misses for one
// issuer share a single fetch, and issuers never block each other.
// Readers of a live snapshot take no locks.
type KeyResolver struct {
	cfg    ResolverConfig
	client HTTPClient
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	refreshes metric.Int64Counter

	entries sync.Map // issuer -> *issuerEntry
}

type issuerEntry struct {
	snapshot   atomic.Pointer[KeySet]
	generation atomic.Uint64
	sf         singleflight.Group
}

// NewKeyResolver creates a resolver. Zero TTL and FetchTimeout take their
// defaults (5m and 10s).
func NewKeyResolver(cfg ResolverConfig) (*KeyResolver, error) {
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
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

	refreshes, _ := mp.Meter(instrumentationName).Int64Counter("auth.key_set.refreshes",
		metric.WithDescription("Key set fetches per issuer, by outcome"))

	return &KeyResolver{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		tracer:    tp.Tracer(instrumentationName),
		now:       time.Now,
		refreshes: refreshes,
	}, nil
}

// ResolveKey returns the public key the issuer publishes under keyID.
//
// A missing or expired snapshot is refreshed first. A key id absent from a
// live snapshot triggers exactly one refresh; if the key is still absent the
// result is [sserr.ErrUnknownSigningKey]. A failed refresh is reported as
// UnknownSigningKey wrapping the fetch error.
func (r *KeyResolver) ResolveKey(ctx context.Context, issuer, keyID string) (key crypto.PublicKey, err error) {
	ctx, span := startSpan(ctx, r.tracer, "auth.ResolveKey",
		attribute.String("auth.issuer", issuer),
		attribute.String("auth.kid", keyID),
	)
	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	if issuer == "" {
		return nil, sserr.New(sserr.CodeUnknownSigningKey, "auth: no issuer to resolve keys for")
	}

	e := r.entry(issuer)
	ks := e.snapshot.Load()
	if ks != nil && !ks.Expired(r.now()) {
		if k, ok := ks.Keys[keyID]; ok {
			return k, nil
		}
	}

	var seen uint64
	if ks != nil {
		seen = ks.Generation
	}
	ks, err = r.refresh(ctx, issuer, e, seen)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnknownSigningKey,
			"auth: signing key could not be resolved").WithDetail("kid", keyID)
	}

	span.SetAttributes(attribute.Int64("auth.key_set.generation", int64(ks.Generation)))
	k, ok := ks.Keys[keyID]
	if !ok {
		return nil, sserr.New(sserr.CodeUnknownSigningKey,
			"auth: signing key is not published by the issuer").WithDetail("kid", keyID)
	}
	return k, nil
}

// Snapshot returns the current key set for issuer, if one has been fetched.
func (r *KeyResolver) Snapshot(issuer string) (*KeySet, bool) {
	v, ok := r.entries.Load(issuer)
	if !ok {
		return nil, false
	}
	ks := v.(*issuerEntry).snapshot.Load()
	return ks, ks != nil
}

// Prefetch returns the live key set for issuer, fetching it through the
// issuer's refresh slot if there is none. Use it to warm the cache at
// startup.
func (r *KeyResolver) Prefetch(ctx context.Context, issuer string) (*KeySet, error) {
	if issuer == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: no issuer to prefetch keys for")
	}
	e := r.entry(issuer)
	ks := e.snapshot.Load()
	if ks != nil && !ks.Expired(r.now()) {
		return ks, nil
	}
	var seen uint64
	if ks != nil {
		seen = ks.Generation
	}
	ks, err := r.refresh(ctx, issuer, e, seen)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"auth: key set could not be fetched").WithDetail("issuer", issuer)
	}
	return ks, nil
}

// Invalidate drops the snapshot for issuer. The next resolve refetches.
func (r *KeyResolver) Invalidate(issuer string) {
	r.entries.Delete(issuer)
}

// Close drops every snapshot.
func (r *KeyResolver) Close() {
	r.entries.Range(func(k, _ any) bool {
		r.entries.Delete(k)
		return true
	})
}

func (r *KeyResolver) entry(issuer string) *issuerEntry {
	if v, ok := r.entries.Load(issuer); ok {
		return v.(*issuerEntry)
	}
	v, _ := r.entries.LoadOrStore(issuer, &issuerEntry{})
	return v.(*issuerEntry)
}

// refresh fetches a new snapshot for issuer through the entry's single
// refresh slot. Callers that observed generation seen and arrive after a
// newer live snapshot was published reuse it instead of fetching again.
// The caller's ctx bounds the wait only; the fetch itself runs under
// FetchTimeout so the slot is always released.
func (r *KeyResolver) refresh(ctx context.Context, issuer string, e *issuerEntry, seen uint64) (*KeySet, error) {
	ch := e.sf.DoChan("refresh", func() (any, error) {
		if cur := e.snapshot.Load(); cur != nil && cur.Generation > seen && !cur.Expired(r.now()) {
			return cur, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FetchTimeout)
		defer cancel()

		var prevURI string
		if cur := e.snapshot.Load(); cur != nil {
			prevURI = cur.JWKSURI
		}

		ks, err := r.fetch(fetchCtx, issuer, prevURI)
		if err != nil {
			r.refreshes.Add(fetchCtx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
			r.logger.WarnContext(ctx, "auth: key set refresh failed",
				"issuer", issuer,
				"error", err,
			)
			return nil, err
		}

		ks.Generation = e.generation.Add(1)
		e.snapshot.Store(ks)
		r.refreshes.Add(fetchCtx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
		r.logger.DebugContext(ctx, "auth: key set refreshed",
			"issuer", issuer,
			"keys", len(ks.Keys),
			"generation", ks.Generation,
		)
		return ks, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

// fetch resolves the key set URL (override, previously discovered, or OIDC
// discovery) and downloads the keys. Transient failures are retried once.
func (r *KeyResolver) fetch(ctx context.Context, issuer, prevURI string) (*KeySet, error) {
	jwksURI := r.cfg.JWKSURLs[issuer]
	if jwksURI == "" {
		jwksURI = prevURI
	}
	if jwksURI == "" {
		var doc *oidcDiscoveryResponse
		err := retryTransient(ctx, func() error {
			var derr error
			doc, derr = fetchOIDCDiscovery(ctx, issuer, r.client)
			return derr
		})
		if err != nil {
			return nil, err
		}
		jwksURI = doc.JWKSURI
	}

	var keys map[string]crypto.PublicKey
	err := retryTransient(ctx, func() error {
		var ferr error
		keys, ferr = fetchJWKS(ctx, jwksURI, r.client)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	return &KeySet{
		Issuer:    issuer,
		JWKSURI:   jwksURI,
		Keys:      keys,
		FetchedAt: r.now(),
		TTL:       r.cfg.TTL,
	}, nil
}

// statusError is a non-200 answer from a metadata endpoint.
type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("auth: %s returned status %d", e.url, e.status)
}

// retryTransient runs fn and, if it fails with a network error or a 5xx
// status, runs it exactly once more.
func retryTransient(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isTransient(err) || ctx.Err() != nil {
		return err
	}
	return fn()
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func getMetadata(ctx context.Context, client HTTPClient, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: request to %s failed: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxMetadataSize))
		return nil, &statusError{url: url, status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read response from %s: %w", url, err)
	}
	return body, nil
}

// fetchJWKS downloads a JWK set and keeps the RSA and EC public keys that
// carry a key id and are not marked for encryption.
func fetchJWKS(ctx context.Context, jwksURL string, client HTTPClient) (map[string]crypto.PublicKey, error) {
	body, err := getMetadata(ctx, client, jwksURL)
	if err != nil {
		return nil, err
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS from %s: %w", jwksURL, err)
	}

	keys := make(map[string]crypto.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok || k.KeyID() == "" || k.KeyUsage() == string(jwk.ForEncryption) {
			continue
		}
		var raw any
		if err := k.Raw(&raw); err != nil {
			continue
		}
		switch pub := raw.(type) {
		case *rsa.PublicKey:
			keys[k.KeyID()] = pub
		case *ecdsa.PublicKey:
			keys[k.KeyID()] = pub
		}
	}
	return keys, nil
}

// oidcDiscoveryResponse holds the discovery fields the resolver needs.
type oidcDiscoveryResponse struct {
	Issuer        string `json:"issuer"`
	JWKSURI       string `json:"jwks_uri"`
	TokenEndpoint string `json:"token_endpoint"`
}

// fetchOIDCDiscovery reads <issuer>/.well-known/openid-configuration. The
// document must name the same issuer it was fetched for.
func fetchOIDCDiscovery(ctx context.Context, issuerURL string, client HTTPClient) (*oidcDiscoveryResponse, error) {
	discoveryURL := strings.TrimRight(issuerURL, "/") + "/.well-known/openid-configuration"

	body, err := getMetadata(ctx, client, discoveryURL)
	if err != nil {
		return nil, err
	}

	var discovery oidcDiscoveryResponse
	if err := json.Unmarshal(body, &discovery); err != nil {
		return nil, fmt.Errorf("auth: failed to parse OIDC discovery JSON: %w", err)
	}
	if discovery.Issuer != issuerURL {
		return nil, fmt.Errorf("auth: discovery document issuer %q does not match %q", discovery.Issuer, issuerURL)
	}
	if discovery.JWKSURI == "" {
		return nil, fmt.Errorf("auth: OIDC discovery document missing jwks_uri")
	}
	return &discovery, nil
}
