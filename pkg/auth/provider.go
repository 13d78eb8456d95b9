package auth

import (
	"strings"
	"time"
)

// ProviderKind identifies an identity provider family. The set is closed:
// every kind has exactly one claim-mapping rule in [ProviderKind.Adapt]
// and one authority normalization rule in [ProviderConfig].
type ProviderKind string

const (
	// ProviderKeycloak reads sub, roles and tenant_id directly.
	ProviderKeycloak ProviderKind = "keycloak"

	// ProviderEntra is Microsoft Entra ID. oid is the subject and tid the
	// tenant.
	ProviderEntra ProviderKind = "microsoft_entra"

	// ProviderGoogle is Google accounts. Google issues no role claims, so
	// identities get no roles and the [GoogleTenant] sentinel tenant.
	ProviderGoogle ProviderKind = "google"

	// ProviderCognito is AWS Cognito user pools. Group membership becomes
	// roles and custom:tenant_id the tenant.
	ProviderCognito ProviderKind = "aws_cognito"
)

// DefaultTenant is the tenant assigned when a token carries none.
const DefaultTenant = "default"

// GoogleTenant is the provider-level tenant of every Google identity.
const GoogleTenant = "google"

// GoogleAuthority is the only issuer Google tokens are accepted from.
const GoogleAuthority = "https://accounts.google.com"

var providerAliases = map[string]ProviderKind{
	"keycloak":        ProviderKeycloak,
	"microsoft_entra": ProviderEntra,
	"entra":           ProviderEntra,
	"azure_ad":        ProviderEntra,
	"google":          ProviderGoogle,
	"aws_cognito":     ProviderCognito,
	"cognito":         ProviderCognito,
}

// ParseProviderKind resolves a configured provider name. Matching is
// case-insensitive and accepts short aliases ("entra", "cognito").
func ParseProviderKind(s string) (ProviderKind, bool) {
	k, ok := providerAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// Kinds returns every supported provider kind.
func Kinds() []ProviderKind {
	return []ProviderKind{ProviderKeycloak, ProviderEntra, ProviderGoogle, ProviderCognito}
}

// String returns the kind's configuration name.
func (k ProviderKind) String() string { return string(k) }

// Valid reports whether k is one of the supported kinds.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderKeycloak, ProviderEntra, ProviderGoogle, ProviderCognito:
		return true
	}
	return false
}

// Adapt maps verified claims to an [Identity]. It never fails: absent or
// mistyped claims become empty values, an empty role set, and a sentinel
// tenant. An unknown kind is adapted with the Keycloak rule.
func (k ProviderKind) Adapt(claims map[string]any) Identity {
	c := claimSet(claims)
	id := Identity{
		Provider:    k,
		Name:        c.str("name"),
		GivenName:   c.str("given_name"),
		FamilyName:  c.str("family_name"),
		PhoneNumber: c.str("phone_number"),
		Issuer:      c.str("iss"),
		Audience:    c.strings("aud"),
		ExpiresAt:   c.time("exp"),
		IssuedAt:    c.time("iat"),
		RawClaims:   cloneClaims(claims),
	}

	switch k {
	case ProviderEntra:
		id.Subject = c.first("oid", "sub")
		id.Email = c.first("upn", "email")
		id.Username = c.first("preferred_username", "upn")
		id.Roles = c.roles("roles")
		id.TenantID = c.strOr("tid", DefaultTenant)
	case ProviderGoogle:
		id.Subject = c.str("sub")
		id.Email = c.str("email")
		id.Username, _, _ = strings.Cut(id.Email, "@")
		id.Roles = []string{}
		id.TenantID = GoogleTenant
	case ProviderCognito:
		id.Subject = c.str("sub")
		id.Email = c.str("email")
		id.Username = c.first("cognito:username", "email")
		id.Roles = c.roles("cognito:groups")
		id.TenantID = c.strOr("custom:tenant_id", DefaultTenant)
	default:
		id.Provider = ProviderKeycloak
		id.Subject = c.str("sub")
		id.Email = c.str("email")
		id.Username = c.str("preferred_username")
		id.Roles = c.roles("roles")
		id.TenantID = c.strOr("tenant_id", DefaultTenant)
	}
	return id
}

// claimSet reads loosely typed JWT claims without panicking.
type claimSet map[string]any

func (c claimSet) str(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c claimSet) strOr(key, fallback string) string {
	if s := c.str(key); s != "" {
		return s
	}
	return fallback
}

// first returns the first non-empty string among keys.
func (c claimSet) first(keys ...string) string {
	for _, k := range keys {
		if s := c.str(k); s != "" {
			return s
		}
	}
	return ""
}

// strings accepts a single string or an array of strings. Non-string
// array members are dropped. The result is never nil.
func (c claimSet) strings(key string) []string {
	switch v := c[key].(type) {
	case string:
		if v == "" {
			return []string{}
		}
		return []string{v}
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// roles is strings with repeats removed. First occurrence wins, so the
// order the IdP sent is kept.
func (c claimSet) roles(key string) []string {
	all := c.strings(key)
	seen := make(map[string]struct{}, len(all))
	out := all[:0]
	for _, r := range all {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// time reads a NumericDate claim. JSON numbers decode as float64; the
// json.Number form is accepted for decoders configured with UseNumber.
func (c claimSet) time(key string) time.Time {
	switch v := c[key].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	case int:
		return time.Unix(int64(v), 0).UTC()
	case interface{ Int64() (int64, error) }:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0).UTC()
		}
	}
	return time.Time{}
}
