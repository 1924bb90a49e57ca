package token

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

const redacted = "[REDACTED]"

// Secret is a credential that never prints. Use [Secret.Value] to read it.
type Secret string

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v is redacted too.
func (s Secret) GoString() string { return s.String() }

// MarshalText keeps secrets out of JSON and YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

// AccessToken is an issued bearer token. It is immutable once issued; the
// cache replaces it rather than modifying it.
type AccessToken struct {
	Value     Secret
	TokenType string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
}

// Remaining returns the lifetime left at now.
func (t *AccessToken) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// Expired reports whether the token is past its expiry at now.
func (t *AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// String describes the token without its value.
func (t *AccessToken) String() string {
	if t == nil {
		return "AccessToken(nil)"
	}
	return fmt.Sprintf("AccessToken{type=%s, expires_at=%s, scopes=%v}",
		t.TokenType, t.ExpiresAt.UTC().Format(time.RFC3339), t.Scopes)
}

// LogValue implements slog.LogValuer.
func (t *AccessToken) LogValue() slog.Value {
	if t == nil {
		return slog.StringValue("nil")
	}
	return slog.GroupValue(
		slog.Time("expires_at", t.ExpiresAt),
		slog.Any("scopes", t.Scopes),
	)
}

// ClientIdentity is a client registration at the issuer. It is loaded once
// at startup and read-only afterwards.
type ClientIdentity struct {
	ClientID      string   `json:"client_id" yaml:"client_id" env:"ID" required:"true"`
	ClientSecret  Secret   `json:"client_secret" yaml:"client_secret" env:"SECRET" required:"true"`
	TokenEndpoint string   `json:"token_endpoint" yaml:"token_endpoint" env:"TOKEN_ENDPOINT" required:"true"`
	Scopes        []string `json:"scopes,omitempty" yaml:"scopes,omitempty" env:"SCOPES"`
}

// Validate checks that the identity can be used for a grant.
func (c *ClientIdentity) Validate() error {
	if c.ClientID == "" {
		return sserr.New(sserr.CodeValidationRequired, "token: client id is required")
	}
	if c.ClientSecret == "" {
		return sserr.New(sserr.CodeValidationRequired, "token: client secret is required")
	}
	u, err := url.Parse(c.TokenEndpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return sserr.Newf(sserr.CodeValidationFormat, "token: token endpoint %q is not an absolute URL", c.TokenEndpoint)
	}
	return nil
}
