package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRoleSet_NormalizesCase(t *testing.T) {
	t.Parallel()
	set := NewRoleSet("Admin", " analista ", "", "ADMIN")
	assert.Len(t, set, 2)
	assert.True(t, set.Contains("admin"))
	assert.True(t, set.Contains("Analista"))
	assert.False(t, set.Contains(""))
}

func TestRoleSet_Intersects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		have []string
		want []string
		ok   bool
	}{
		{name: "shared role", have: []string{"analista"}, want: []string{"admin", "analista"}, ok: true},
		{name: "case differs", have: []string{"ADMIN"}, want: []string{"admin"}, ok: true},
		{name: "disjoint", have: []string{"analista"}, want: []string{"admin"}, ok: false},
		{name: "empty have", have: nil, want: []string{"admin"}, ok: false},
		{name: "empty want", have: []string{"admin"}, want: nil, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.ok, NewRoleSet(tt.have...).Intersects(NewRoleSet(tt.want...)))
		})
	}
}

func TestRoleSet_Sorted(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"admin", "analista", "auditor"},
		NewRoleSet("Auditor", "admin", "ANALISTA").Sorted())
	assert.Empty(t, NewRoleSet().Sorted())
}
