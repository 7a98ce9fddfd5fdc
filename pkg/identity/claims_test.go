package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   string
		wantOK bool
	}{
		{
			name:   "top-level email",
			claims: map[string]any{"email": "Jane@Example.com"},
			want:   "jane@example.com",
			wantOK: true,
		},
		{
			name:   "email_address fallback",
			claims: map[string]any{"email_address": "jane@example.com"},
			want:   "jane@example.com",
			wantOK: true,
		},
		{
			name:   "malformed email skipped in favour of later rule",
			claims: map[string]any{"email": "not-an-email", "primary_email": "p@example.org"},
			want:   "p@example.org",
			wantOK: true,
		},
		{
			name:   "emails array",
			claims: map[string]any{"emails": []any{"first@example.com", "second@example.com"}},
			want:   "first@example.com",
			wantOK: true,
		},
		{
			name: "email_addresses objects",
			claims: map[string]any{"email_addresses": []any{
				map[string]any{"email_address": "obj@example.com", "id": "idn_1"},
			}},
			want:   "obj@example.com",
			wantOK: true,
		},
		{
			name:   "display name form rejected",
			claims: map[string]any{"email": "Jane <jane@example.com>"},
			wantOK: false,
		},
		{
			name:   "no domain dot rejected",
			claims: map[string]any{"email": "jane@localhost"},
			wantOK: false,
		},
		{
			name:   "wrong type ignored",
			claims: map[string]any{"email": 42},
			wantOK: false,
		},
		{
			name:   "nothing present",
			claims: map[string]any{"sub": "user_1"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractEmail(tt.claims)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestExtractEmail_CustomRules(t *testing.T) {
	claims := map[string]any{"email": "a@example.com", "upn": "b@example.com"}

	got, ok := ExtractEmail(claims, ClaimString("upn"))
	assert.True(t, ok)
	assert.Equal(t, "b@example.com", got)
}

func TestPlaceholderEmail(t *testing.T) {
	got := PlaceholderEmail("user_test_123")
	assert.Equal(t, "user_test_123@"+PlaceholderDomain, got)

	got = PlaceholderEmail("auth0|5f7c8ec7")
	assert.Equal(t, "auth0_5f7c8ec7@"+PlaceholderDomain, got)

	got = PlaceholderEmail("...")
	assert.Equal(t, "user@"+PlaceholderDomain, got)

	long := PlaceholderEmail(strings.Repeat("x", 200))
	local := strings.SplitN(long, "@", 2)[0]
	assert.Len(t, local, 64)

	_, ok := ExtractEmail(map[string]any{"email": PlaceholderEmail("user_test_123")})
	assert.True(t, ok, "placeholder must itself be well-formed")
}
