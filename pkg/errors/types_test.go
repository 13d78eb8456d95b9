package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  &Error{Code: CodeAuthenticationExpired, Message: "token expired"},
			want: "AUTH_002: token expired",
		},
		{
			name: "with cause",
			err: &Error{
				Code:    CodeAuthenticationKeySet,
				Message: "could not fetch signing keys",
				Cause:   errors.New("connection refused"),
			},
			want: "AUTH_006: could not fetch signing keys: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_UnwrapChain(t *testing.T) {
	t.Parallel()
	cause := errors.New("dial tcp: timeout")
	inner := Wrap(cause, CodeTimeoutDependency, "jwks fetch timed out")
	outer := Wrap(inner, CodeAuthenticationKeySet, "key set unavailable")

	assert.True(t, errors.Is(outer, cause))

	var target *Error
	require.True(t, errors.As(outer, &target))
	assert.Equal(t, CodeAuthenticationKeySet, target.Code)
}

func TestError_HTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeAuthenticationFormat, http.StatusUnauthorized},
		{CodeAuthenticationKeyNotFound, http.StatusUnauthorized},
		{CodeAuthorizationRole, http.StatusForbidden},
		{CodeAuthorizationCrossTenant, http.StatusForbidden},
		{CodeNotFoundTenant, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternalIdentityMissing, http.StatusInternalServerError},
		{CodeUnavailableDependency, http.StatusServiceUnavailable},
		{CodeTimeoutDatabase, http.StatusGatewayTimeout},
		{Code("WEIRD"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus())
		})
	}
}

func TestError_WithDetailDoesNotMutate(t *testing.T) {
	t.Parallel()
	base := New(CodeRateLimited, "slow down").WithDetail("tier", "DELETE")
	derived := base.WithDetail("key", "ip:9.9.9.9")

	_, ok := base.Detail("key")
	assert.False(t, ok, "original must not see details added to the copy")

	tier, ok := derived.Detail("tier")
	require.True(t, ok)
	assert.Equal(t, "DELETE", tier)
}

func TestError_Format(t *testing.T) {
	t.Parallel()
	err := Wrap(errors.New("boom"), CodeInternal, "failed").WithDetail("op", "audit")

	assert.Equal(t, "INT_001: failed: boom", fmt.Sprintf("%v", err))
	assert.Contains(t, fmt.Sprintf("%+v", err), `Code: "INT_001"`)
	assert.Contains(t, fmt.Sprintf("%+v", err), "op:audit")
}

func TestCode_Category(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AUTHZ", CodeAuthorizationTenant.Category())
	assert.Equal(t, "RATE", CodeRateLimited.Category())
	assert.Equal(t, "NOUNDERSCORE", Code("NOUNDERSCORE").Category())
}
