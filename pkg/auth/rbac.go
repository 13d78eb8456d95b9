package auth

import (
	"slices"
	"strings"
)

// RoleSet is a case-insensitive set of role names. All names are stored
// lower-cased, so "Admin" and "admin" are the same role.
type RoleSet map[string]struct{}

// NewRoleSet builds a set from role names. Blank names are ignored.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

// Contains reports whether role is in the set.
func (s RoleSet) Contains(role string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Intersects reports whether s and other share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for r := range small {
		if _, ok := large[r]; ok {
			return true
		}
	}
	return false
}

// Sorted returns the roles in lexical order, for logs and error details.
func (s RoleSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
