// Package errcode defines the machine-readable failure kinds returned by every
// endpoint and the mapping from those kinds to HTTP status codes.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable failure kind
type Code string

const (
	InvalidBody         Code = "invalid_body"
	EnvMissing          Code = "env_missing"
	JWTInvalid          Code = "jwt_invalid"
	JWTIssuerInvalid    Code = "jwt_issuer_invalid"
	JWTAudienceInvalid  Code = "jwt_audience_invalid"
	RateLimited         Code = "rate_limited"
	UserCreateFailed    Code = "user_create_failed"
	BootstrapFailed     Code = "bootstrap_failed"
	BootstrapRPCMissing Code = "bootstrap_rpc_missing"
	SessionCreateFailed Code = "session_create_failed"
	StatusFailed        Code = "status_failed"
	MethodNotAllowed    Code = "method_not_allowed"
	InternalError       Code = "internal_error"
)

// HTTPStatus returns the response status for the code
func (c Code) HTTPStatus() int {
	switch c {
	case InvalidBody:
		return http.StatusBadRequest
	case JWTInvalid, JWTIssuerInvalid, JWTAudienceInvalid:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the code as it may be shown to callers. Verification
// failures all collapse to jwt_invalid so a caller cannot tell which check
// rejected the token.
func (c Code) Public() Code {
	if c.IsVerification() {
		return JWTInvalid
	}
	return c
}

// IsVerification reports whether the code is one of the token verification failures
func (c Code) IsVerification() bool {
	return c == JWTInvalid || c == JWTIssuerInvalid || c == JWTAudienceInvalid
}

// Error is a failure carrying a Code
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// From extracts the first *Error in err's chain. Errors without a code
// become internal_error so nothing escapes untyped.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: InternalError, Message: "internal error", Err: err}
}

// CodeOf returns the code carried by err. Untyped errors report
// InternalError; a nil error reports the empty code.
func CodeOf(err error) Code {
	if e := From(err); e != nil {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
