package auth

import (
	"strings"
)

const (
	// HeaderAuthorization carries the bearer credential, both as an HTTP
	// header and as gRPC metadata.
	HeaderAuthorization = "authorization"

	// HeaderWWWAuthenticate is the challenge header on 401 responses.
	HeaderWWWAuthenticate = "WWW-Authenticate"
)

// MaxTokenSize is the largest bearer token accepted, in bytes. Anything
// longer is treated as malformed without being parsed. 8 KiB matches the
// common per-header limit of HTTP/1.1 servers.
const MaxTokenSize = 8192

const bearerPrefix = "Bearer "

// ExtractBearerToken returns the token from an Authorization header value.
// The scheme is matched case-insensitively. It returns "" when the header
// is empty, uses another scheme, or carries a value with inner whitespace.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return ""
	}
	return tok
}

// BearerHeader formats token as an Authorization header value.
func BearerHeader(token string) string {
	return bearerPrefix + token
}
