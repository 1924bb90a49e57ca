package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapAuthorities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		claims map[string]any
		want   []string
	}{
		{
			name:   "scope string and roles list",
			claims: map[string]any{"scope": "get-access read", "roles": []any{"admin"}},
			want:   []string{"admin", "get-access", "read"},
		},
		{
			name:   "scope list",
			claims: map[string]any{"scope": []any{"get-access", "read"}},
			want:   []string{"get-access", "read"},
		},
		{
			name:   "typed string slices",
			claims: map[string]any{"scope": []string{"a"}, "roles": []string{"b"}},
			want:   []string{"a", "b"},
		},
		{
			name:   "duplicates collapse",
			claims: map[string]any{"scope": "get-access  get-access", "roles": []any{"get-access"}},
			want:   []string{"get-access"},
		},
		{
			name:   "no claims",
			claims: map[string]any{},
			want:   []string{},
		},
		{
			name:   "nil claims",
			claims: nil,
			want:   []string{},
		},
		{
			name:   "wrongly typed claims contribute nothing",
			claims: map[string]any{"scope": 42, "roles": "admin"},
			want:   []string{},
		},
		{
			name:   "non-string list items ignored",
			claims: map[string]any{"roles": []any{"ok", 7, nil, map[string]any{}, ""}},
			want:   []string{"ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapAuthorities(tt.claims).Slice())
		})
	}
}

func TestMapAuthorities_DoesNotModifyClaims(t *testing.T) {
	t.Parallel()
	roles := []any{"b", "a"}
	claims := map[string]any{"scope": "x y", "roles": roles}

	first := MapAuthorities(claims)
	second := MapAuthorities(claims)

	assert.Equal(t, first, second)
	assert.Equal(t, []any{"b", "a"}, roles)
	assert.Len(t, claims, 2)
}

func TestAuthorityMapper_CustomClaims(t *testing.T) {
	t.Parallel()
	m := AuthorityMapper{ScopeClaim: "scp", RolesClaim: "groups"}
	claims := map[string]any{
		"scp":    "get-access",
		"groups": []any{"ops"},
		"scope":  "ignored",
	}
	assert.Equal(t, []string{"get-access", "ops"}, m.Map(claims).Slice())
}

func TestAuthorityMapper_ZeroValueUsesDefaults(t *testing.T) {
	t.Parallel()
	var m AuthorityMapper
	assert.True(t, m.Map(map[string]any{"scope": "get-access"}).Has("get-access"))
}

func TestAuthorities_Set(t *testing.T) {
	t.Parallel()
	a := NewAuthorities("b", "a", "", "b")
	assert.Equal(t, 2, a.Len())
	assert.True(t, a.Has("a"))
	assert.False(t, a.Has(""))
	assert.Equal(t, []string{"a", "b"}, a.Slice())
}
