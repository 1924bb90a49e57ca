package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

// Issuer paths, shaped like a Keycloak realm.
const (
	DiscoveryPath = "/.well-known/openid-configuration"
	JWKSPath      = "/protocol/openid-connect/certs"
	TokenPath     = "/protocol/openid-connect/token"
)

type issuerKey struct {
	signer crypto.Signer
	method jwt.SigningMethod
}

// IssuedClient is a client registered with the test issuer.
type IssuedClient struct {
	Secret string
	Scope  string
	Roles  []string
}

// Issuer is an in-process OAuth2 authorization server for tests. It serves
// OIDC discovery, a JWKS document and a client-credentials token endpoint,
// counts requests per endpoint and can be told to fail.
//
// The issuer identifier is the server URL.
type Issuer struct {
	Server *httptest.Server
	URL    string

	mu        sync.Mutex
	keys      map[string]issuerKey
	published map[string]bool
	active    string
	clients   map[string]IssuedClient
	tokenTTL  time.Duration
	omitExp   bool
	tokenType string
	hold      chan struct{}

	discoveryHits atomic.Int64
	jwksHits      atomic.Int64
	tokenHits     atomic.Int64
	failJWKS      atomic.Int64
	failToken     atomic.Int64
	failStatus    atomic.Int64
}

// NewIssuer starts an issuer with one RSA key ("rsa-1") published and
// active. The server is closed on cleanup.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	iss := &Issuer{
		keys:      make(map[string]issuerKey),
		published: make(map[string]bool),
		clients:   make(map[string]IssuedClient),
		tokenTTL:  time.Hour,
		tokenType: "Bearer",
	}
	iss.failStatus.Store(http.StatusInternalServerError)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+DiscoveryPath, iss.serveDiscovery)
	mux.HandleFunc("GET "+JWKSPath, iss.serveJWKS)
	mux.HandleFunc("POST "+TokenPath, iss.serveToken)
	iss.Server = httptest.NewServer(mux)
	iss.URL = iss.Server.URL
	t.Cleanup(iss.Server.Close)

	iss.AddRSAKey(t, "rsa-1")
	return iss
}

// TokenEndpoint returns the token endpoint URL.
func (i *Issuer) TokenEndpoint() string { return i.URL + TokenPath }

// JWKSURL returns the key set URL.
func (i *Issuer) JWKSURL() string { return i.URL + JWKSPath }

// AddRSAKey generates a 2048-bit RSA key, publishes it under kid and makes
// it the signing key for issued tokens.
func (i *Issuer) AddRSAKey(t testing.TB, kid string) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	i.addKey(kid, issuerKey{signer: key, method: jwt.SigningMethodRS256})
	return key
}

// AddECKey generates a P-256 key, publishes it under kid and makes it the
// signing key for issued tokens.
func (i *Issuer) AddECKey(t testing.TB, kid string) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "failed to generate EC key")
	i.addKey(kid, issuerKey{signer: key, method: jwt.SigningMethodES256})
	return key
}

func (i *Issuer) addKey(kid string, k issuerKey) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[kid] = k
	i.published[kid] = true
	i.active = kid
}

// AddUnpublishedKey generates an RSA key that signs tokens under kid but
// is not part of the JWKS document until [Issuer.Publish] is called.
func (i *Issuer) AddUnpublishedKey(t testing.TB, kid string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[kid] = issuerKey{signer: key, method: jwt.SigningMethodRS256}
}

// Activate makes kid the signing key for issued tokens.
func (i *Issuer) Activate(kid string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active = kid
}

// Publish adds kid to the JWKS document.
func (i *Issuer) Publish(kid string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.published[kid] = true
}

// Unpublish removes kid from the JWKS document. Tokens can still be signed
// with it.
func (i *Issuer) Unpublish(kid string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.published, kid)
}

// RegisterClient accepts client credentials for id. Issued tokens carry
// scope (space-delimited) and roles.
func (i *Issuer) RegisterClient(id, secret, scope string, roles ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.clients[id] = IssuedClient{Secret: secret, Scope: scope, Roles: roles}
}

// SetTokenTTL sets expires_in (and exp) for issued tokens.
func (i *Issuer) SetTokenTTL(ttl time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tokenTTL = ttl
}

// OmitExpiresIn makes token responses leave out expires_in.
func (i *Issuer) OmitExpiresIn(omit bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.omitExp = omit
}

// SetTokenType overrides the token_type of token responses.
func (i *Issuer) SetTokenType(tt string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tokenType = tt
}

// Hold makes token requests block until the returned release func is
// called. Requests are counted before they block.
func (i *Issuer) Hold() (release func()) {
	ch := make(chan struct{})
	i.mu.Lock()
	i.hold = ch
	i.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			i.hold = nil
			i.mu.Unlock()
			close(ch)
		})
	}
}

// FailJWKS makes the next n JWKS requests answer with status.
func (i *Issuer) FailJWKS(n int, status int) {
	i.failStatus.Store(int64(status))
	i.failJWKS.Store(int64(n))
}

// FailToken makes the next n token requests answer with status.
func (i *Issuer) FailToken(n int, status int) {
	i.failStatus.Store(int64(status))
	i.failToken.Store(int64(n))
}

// DiscoveryRequests returns the number of discovery requests served.
func (i *Issuer) DiscoveryRequests() int64 { return i.discoveryHits.Load() }

// JWKSRequests returns the number of JWKS requests served.
func (i *Issuer) JWKSRequests() int64 { return i.jwksHits.Load() }

// TokenRequests returns the number of token requests served.
func (i *Issuer) TokenRequests() int64 { return i.tokenHits.Load() }

// Claims returns standard claims for sub valid for ttl from now.
func (i *Issuer) Claims(sub string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": i.URL,
		"sub": sub,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
}

// Sign signs claims with the key registered under kid.
func (i *Issuer) Sign(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	i.mu.Lock()
	k, ok := i.keys[kid]
	i.mu.Unlock()
	require.True(t, ok, "unknown issuer key %q", kid)

	tok, err := sign(k, kid, claims)
	require.NoError(t, err, "failed to sign token")
	return tok
}

func sign(k issuerKey, kid string, claims jwt.MapClaims) (string, error) {
	tok := jwt.NewWithClaims(k.method, claims)
	tok.Header["kid"] = kid
	return tok.SignedString(k.signer)
}

func (i *Issuer) serveDiscovery(w http.ResponseWriter, _ *http.Request) {
	i.discoveryHits.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                i.URL,
		"jwks_uri":              i.JWKSURL(),
		"token_endpoint":        i.TokenEndpoint(),
		"grant_types_supported": []string{"client_credentials"},
	})
}

func (i *Issuer) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	i.jwksHits.Add(1)
	if consume(&i.failJWKS) {
		w.WriteHeader(int(i.failStatus.Load()))
		return
	}

	set := jwk.NewSet()
	i.mu.Lock()
	for kid := range i.published {
		k, ok := i.keys[kid]
		if !ok {
			continue
		}
		pub, err := jwk.FromRaw(k.signer.Public())
		if err != nil {
			continue
		}
		_ = pub.Set(jwk.KeyIDKey, kid)
		_ = pub.Set(jwk.KeyUsageKey, "sig")
		_ = set.AddKey(pub)
	}
	i.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (i *Issuer) serveToken(w http.ResponseWriter, r *http.Request) {
	i.tokenHits.Add(1)

	i.mu.Lock()
	hold := i.hold
	i.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	if consume(&i.failToken) {
		writeJSON(w, int(i.failStatus.Load()), map[string]string{"error": "server_error"})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}

	i.mu.Lock()
	client, known := i.clients[id]
	k := i.keys[i.active]
	kid := i.active
	ttl, omitExp, tokenType := i.tokenTTL, i.omitExp, i.tokenType
	i.mu.Unlock()

	if !known || client.Secret != secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	scope := client.Scope
	if requested := r.PostForm.Get("scope"); requested != "" {
		scope = strings.TrimSpace(scope + " " + requested)
	}

	claims := i.Claims(id, ttl)
	claims["azp"] = id
	if scope != "" {
		claims["scope"] = scope
	}
	if len(client.Roles) > 0 {
		claims["roles"] = client.Roles
	}
	access, err := sign(k, kid, claims)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	body := map[string]any{
		"access_token": access,
		"token_type":   tokenType,
	}
	if scope != "" {
		body["scope"] = scope
	}
	if !omitExp {
		body["expires_in"] = int64(ttl / time.Second)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, body)
}

// consume decrements n if it is positive and reports whether it did.
func consume(n *atomic.Int64) bool {
	for {
		cur := n.Load()
		if cur <= 0 {
			return false
		}
		if n.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
