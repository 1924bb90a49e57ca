package auth

import (
	"sort"
	"strings"
)

// Authorities is the set of permission labels derived from a token's
// claims. Membership is all that matters: no order, no duplicates.
type Authorities map[string]struct{}

// NewAuthorities builds a set from values, skipping empty strings.
func NewAuthorities(values ...string) Authorities {
	a := make(Authorities, len(values))
	for _, v := range values {
		a.add(v)
	}
	return a
}

func (a Authorities) add(v string) {
	if v != "" {
		a[v] = struct{}{}
	}
}

// Has reports whether authority is in the set.
func (a Authorities) Has(authority string) bool {
	_, ok := a[authority]
	return ok
}

// Len returns the number of authorities.
func (a Authorities) Len() int { return len(a) }

// Slice returns the authorities sorted, for logging and tests.
func (a Authorities) Slice() []string {
	out := make([]string, 0, len(a))
	for v := range a {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// AuthorityMapper names the claims authorities are read from.
type AuthorityMapper struct {
	// ScopeClaim holds a space-delimited string or a list of strings.
	ScopeClaim string `json:"scope_claim" yaml:"scope_claim" env:"SCOPE_CLAIM" envDefault:"scope"`

	// RolesClaim holds a list of strings.
	RolesClaim string `json:"roles_claim" yaml:"roles_claim" env:"ROLES_CLAIM" envDefault:"roles"`
}

// DefaultAuthorityMapper reads "scope" and "roles".
var DefaultAuthorityMapper = AuthorityMapper{ScopeClaim: "scope", RolesClaim: "roles"}

// MapAuthorities returns the union of the scope and roles claims using
// [DefaultAuthorityMapper].
func MapAuthorities(claims map[string]any) Authorities {
	return DefaultAuthorityMapper.Map(claims)
}

// Map returns the union of the configured scope and roles claims. Absent
// or wrongly typed claims contribute nothing; claims is not modified.
func (m AuthorityMapper) Map(claims map[string]any) Authorities {
	out := make(Authorities)

	scopeClaim := m.ScopeClaim
	if scopeClaim == "" {
		scopeClaim = DefaultAuthorityMapper.ScopeClaim
	}
	rolesClaim := m.RolesClaim
	if rolesClaim == "" {
		rolesClaim = DefaultAuthorityMapper.RolesClaim
	}

	switch v := claims[scopeClaim].(type) {
	case string:
		for _, s := range strings.Fields(v) {
			out.add(s)
		}
	default:
		addStrings(out, v)
	}
	addStrings(out, claims[rolesClaim])

	return out
}

// addStrings adds the string elements of a decoded JSON list. Non-string
// elements are ignored.
func addStrings(out Authorities, v any) {
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			out.add(s)
		}
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out.add(s)
			}
		}
	}
}
