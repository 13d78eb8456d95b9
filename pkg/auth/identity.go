package auth

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Identity is the normalized view of an authenticated subject, produced
// once per validated token by a provider's claim adapter.
//
// Identity is a value: handlers receive copies and must not rely on
// mutating it. TenantID is never empty for identities produced by
// [ProviderKind.Adapt]; every authorization and audit decision is
// partitioned by it.
//
// RawClaims is kept for diagnostics only. Authorization decisions use the
// normalized fields.
type Identity struct {
	Provider ProviderKind `json:"provider"`

	Subject     string   `json:"sub"`
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Username    string   `json:"preferred_username,omitempty"`
	GivenName   string   `json:"given_name,omitempty"`
	FamilyName  string   `json:"family_name,omitempty"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	Roles       []string `json:"roles"`
	TenantID    string   `json:"tenant_id"`

	Issuer    string    `json:"iss,omitempty"`
	Audience  []string  `json:"aud,omitempty"`
	ExpiresAt time.Time `json:"exp,omitzero"`
	IssuedAt  time.Time `json:"iat,omitzero"`

	RawClaims map[string]any `json:"-"`
}

// DisplayName returns the best human-readable label for the subject.
func (i Identity) DisplayName() string {
	switch {
	case i.Name != "":
		return i.Name
	case i.Username != "":
		return i.Username
	case i.Email != "":
		return i.Email
	}
	return i.Subject
}

// HasRole reports whether the identity holds role, ignoring case.
func (i Identity) HasRole(role string) bool {
	return NewRoleSet(i.Roles...).Contains(role)
}

// Clone returns a deep copy so the caller can hand it out safely.
func (i Identity) Clone() Identity {
	c := i
	c.Roles = slices.Clone(i.Roles)
	c.Audience = slices.Clone(i.Audience)
	c.RawClaims = cloneClaims(i.RawClaims)
	return c
}

// cloneClaims copies the top level of a claim map. Nested values are
// shared; they are never mutated by this package.
func cloneClaims(claims map[string]any) map[string]any {
	if claims == nil {
		return map[string]any{}
	}
	return maps.Clone(claims)
}

// TokenValidator validates a bearer token and returns the identity it
// asserts. [*Provider] and [*Registry] implement it.
//
// A failed validation returns a *sserr.Error in the AUTH family whose code
// identifies the rejection reason.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}
