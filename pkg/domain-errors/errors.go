// Package domainerrors carries coded domain errors across service boundaries.
// Services attach a Code when they classify a failure; transport layers map
// codes to wire responses without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of a domain error.
type Code string

// Generic codes shared by every service.
const (
	CodeInternal           Code = "internal_error"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeTimeout            Code = "timeout"
	CodeValidation         Code = "validation_failed"
	CodeInvariantViolation Code = "invariant_violation"
)

// Federation codes. These mirror the trust-policy and protocol decisions the
// engine makes about remote instances; the transport layer maps them to
// coarse statuses so trust-list contents never leak in responses.
const (
	CodeURLWithoutDomain     Code = "url_without_domain"
	CodeFederationDisabled   Code = "federation_disabled"
	CodeDomainBlocked        Code = "domain_blocked"
	CodeDomainNotInAllowList Code = "domain_not_in_allowlist"
	CodeStrictAllowList      Code = "federation_disabled_by_strict_allowlist"
	CodeFetchLimitExceeded   Code = "fetch_limit_exceeded"
	CodeVerificationFailed   Code = "verification_failed"
	CodeUnhandledActivity    Code = "unhandled_activity_type"
	CodeDeliveryFailed       Code = "delivery_failed"
)

// Error is a coded domain error. It optionally wraps an underlying cause.
type Error struct {
	code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Code returns the classification of the error.
func (e *Error) Code() Code { return e.code }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{code: code, msg: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err returns
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, msg: msg, err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for e := err; e != nil; e = errors.Unwrap(e) {
		if errors.As(e, &de) && de.code == code {
			return true
		}
	}
	return false
}

// Is is an alias of HasCode kept for readability at call sites.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the code of the outermost coded error in the chain, or
// CodeInternal when the error is not coded.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}
