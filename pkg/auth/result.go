package auth

import (
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// Reason names why a token was rejected.
type Reason string

const (
	ReasonInvalidFormat Reason = "invalid_format"
	ReasonKeyNotFound   Reason = "key_not_found"
	ReasonJWKSError     Reason = "jwks_error"
	ReasonInvalidToken  Reason = "invalid_token"
	ReasonTokenExpired  Reason = "token_expired"
	ReasonInternalError Reason = "internal_error"
)

// Code returns the error code reported for the reason.
func (r Reason) Code() sserr.Code {
	switch r {
	case ReasonInvalidFormat:
		return sserr.CodeAuthenticationFormat
	case ReasonKeyNotFound:
		return sserr.CodeAuthenticationKeyNotFound
	case ReasonJWKSError:
		return sserr.CodeAuthenticationKeySet
	case ReasonTokenExpired:
		return sserr.CodeAuthenticationExpired
	case ReasonInternalError:
		return sserr.CodeAuthenticationInternal
	default:
		return sserr.CodeAuthenticationInvalid
	}
}

// Result is the outcome of validating one token: either valid with an
// [Identity], or invalid with a [Reason]. The zero Result is invalid.
type Result struct {
	identity *Identity
	reason   Reason
	err      *sserr.Error
}

// Valid returns a successful result.
func Valid(id Identity) Result {
	return Result{identity: &id}
}

// Invalid returns a rejected result. cause may be nil.
func Invalid(reason Reason, message string, cause error) Result {
	e := sserr.New(reason.Code(), message)
	if cause != nil {
		e = sserr.Wrap(cause, reason.Code(), message)
	}
	return Result{reason: reason, err: e.WithDetail("reason", string(reason))}
}

// IsValid reports whether the token was accepted.
func (r Result) IsValid() bool { return r.identity != nil }

// Identity returns the identity of a valid result. ok is false for
// invalid results.
func (r Result) Identity() (id Identity, ok bool) {
	if r.identity == nil {
		return Identity{}, false
	}
	return r.identity.Clone(), true
}

// Reason returns the rejection reason, or "" for a valid result.
func (r Result) Reason() Reason { return r.reason }

// Err returns the rejection as a *sserr.Error, or nil for a valid result.
func (r Result) Err() error {
	if r.identity != nil {
		return nil
	}
	if r.err == nil {
		return sserr.New(sserr.CodeAuthentication, "auth: token was not validated")
	}
	return r.err
}

// Unpack converts the result into the (Identity, error) convention.
func (r Result) Unpack() (Identity, error) {
	if id, ok := r.Identity(); ok {
		return id, nil
	}
	return Identity{}, r.Err()
}
