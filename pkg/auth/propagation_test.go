package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"canonical", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"lower-case scheme", "bearer abc", "abc"},
		{"upper-case scheme", "BEARER abc", "abc"},
		{"trailing whitespace", "Bearer abc  ", "abc"},
		{"extra space after scheme", "Bearer   abc", "abc"},
		{"empty", "", ""},
		{"scheme only", "Bearer", ""},
		{"scheme and space", "Bearer ", ""},
		{"only whitespace after scheme", "Bearer    ", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz", ""},
		{"no scheme", "abc.def.ghi", ""},
		{"scheme without separator", "Bearerabc", ""},
		{"inner whitespace", "Bearer abc def", ""},
		{"inner tab", "Bearer abc\tdef", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractBearerToken(tt.header))
		})
	}
}

func TestBearerHeader_RoundTrip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Bearer tok", BearerHeader("tok"))
	assert.Equal(t, "tok", ExtractBearerToken(BearerHeader("tok")))
}

func TestHeaderConstants(t *testing.T) {
	t.Parallel()
	// gRPC metadata keys must be lower case.
	assert.Equal(t, strings.ToLower(HeaderAuthorization), HeaderAuthorization)
	assert.Equal(t, "WWW-Authenticate", HeaderWWWAuthenticate)
	assert.Equal(t, 8192, MaxTokenSize)
}
