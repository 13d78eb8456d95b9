package errors

// Code is a machine-readable error code. Codes follow the pattern
// CATEGORY_NNN where CATEGORY selects the HTTP status family and NNN
// distinguishes the concrete condition inside that family.
//
// Codes are stable once assigned: dashboards, alert rules, and client
// SDKs match on them.
type Code string

// Categories and the HTTP status each one maps to:
//
//	VAL_xxx     - 400 Bad Request
//	AUTH_xxx    - 401 Unauthorized
//	AUTHZ_xxx   - 403 Forbidden
//	NF_xxx      - 404 Not Found
//	RATE_xxx    - 429 Too Many Requests
//	INT_xxx     - 500 Internal Server Error
//	UNAVAIL_xxx - 503 Service Unavailable
//	TIMEOUT_xxx - 504 Gateway Timeout
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationRange indicates a value is outside the accepted range.
	CodeValidationRange Code = "VAL_003"

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the bearer token's exp has elapsed.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates a signature or claim mismatch.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationFormat indicates the token is not three
	// dot-separated segments.
	CodeAuthenticationFormat Code = "AUTH_004"

	// CodeAuthenticationKeyNotFound indicates no signing key matched the
	// token's kid, even after a forced key-set refresh.
	CodeAuthenticationKeyNotFound Code = "AUTH_005"

	// CodeAuthenticationKeySet indicates the provider's key set could not
	// be retrieved.
	CodeAuthenticationKeySet Code = "AUTH_006"

	// CodeAuthenticationInternal indicates an unexpected failure while
	// validating a token.
	CodeAuthenticationInternal Code = "AUTH_007"

	// CodeAuthenticationMissing indicates no bearer credential was supplied.
	CodeAuthenticationMissing Code = "AUTH_008"

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationRole indicates the identity holds none of the
	// allowed roles.
	CodeAuthorizationRole Code = "AUTHZ_002"

	// CodeAuthorizationTenant indicates the identity carries no usable
	// tenant context.
	CodeAuthorizationTenant Code = "AUTHZ_003"

	// CodeAuthorizationCrossTenant indicates an attempt to read or mutate
	// a record owned by another tenant.
	CodeAuthorizationCrossTenant Code = "AUTHZ_004"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundTenant indicates the referenced tenant does not exist.
	CodeNotFoundTenant Code = "NF_002"

	// CodeRateLimited indicates the caller exhausted its quota.
	CodeRateLimited Code = "RATE_001"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeInternalIdentityMissing indicates a handler that requires an
	// identity ran without one. This is a wiring bug, never a user error.
	CodeInternalIdentityMissing Code = "INT_004"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependent service is unavailable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to a dependent service timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH", "RATE").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
