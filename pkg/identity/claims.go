package identity

import (
	"net/mail"
	"strings"
	"unicode"
)

// PlaceholderDomain is the non-routable domain used for synthesized addresses.
// The .invalid TLD is reserved and can never receive mail.
const PlaceholderDomain = "users.rlsbridge.invalid"

// EmailRule inspects a claim set and returns a candidate email address
type EmailRule func(claims map[string]any) (string, bool)

// DefaultEmailRules are tried in order by ExtractEmail
var DefaultEmailRules = []EmailRule{
	ClaimString("email"),
	ClaimString("email_address"),
	ClaimString("primary_email"),
	ClaimListString("emails"),
	ClaimListField("email_addresses", "email_address"),
}

// ClaimString matches a top-level string claim
func ClaimString(name string) EmailRule {
	return func(claims map[string]any) (string, bool) {
		s, ok := claims[name].(string)
		return s, ok && s != ""
	}
}

// ClaimListString matches the first element of a top-level string array claim
func ClaimListString(name string) EmailRule {
	return func(claims map[string]any) (string, bool) {
		list, ok := claims[name].([]any)
		if !ok || len(list) == 0 {
			return "", false
		}
		s, ok := list[0].(string)
		return s, ok && s != ""
	}
}

// ClaimListField matches field on the first object of a top-level array claim
func ClaimListField(name, field string) EmailRule {
	return func(claims map[string]any) (string, bool) {
		list, ok := claims[name].([]any)
		if !ok || len(list) == 0 {
			return "", false
		}
		obj, ok := list[0].(map[string]any)
		if !ok {
			return "", false
		}
		s, ok := obj[field].(string)
		return s, ok && s != ""
	}
}

// ExtractEmail returns the first well-formed address produced by rules, in
// order. DefaultEmailRules are used when no rules are given.
func ExtractEmail(claims map[string]any, rules ...EmailRule) (string, bool) {
	if len(rules) == 0 {
		rules = DefaultEmailRules
	}
	for _, rule := range rules {
		candidate, ok := rule(claims)
		if !ok {
			continue
		}
		if addr, ok := wellFormed(candidate); ok {
			return addr, true
		}
	}
	return "", false
}

// PlaceholderEmail synthesizes a non-routable address embedding the external id
func PlaceholderEmail(externalID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(externalID) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	local := strings.Trim(b.String(), ".")
	if local == "" {
		local = "user"
	}
	if len(local) > 64 {
		local = local[:64]
	}
	return local + "@" + PlaceholderDomain
}

func wellFormed(candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	addr, err := mail.ParseAddress(candidate)
	if err != nil {
		return "", false
	}
	// Reject display-name forms like "Jane <jane@example.com>"
	if addr.Address != candidate {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}
