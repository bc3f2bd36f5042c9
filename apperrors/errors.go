// Package apperrors holds the error kinds returned by the auth services and
// the HTTP status each one maps to.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidInput          Kind = "INVALID_INPUT"
	KindDuplicateAccount      Kind = "DUPLICATE_ACCOUNT"
	KindInvalidCredentials    Kind = "INVALID_CREDENTIALS"
	KindAccountBlocked        Kind = "ACCOUNT_BLOCKED"
	KindDeviceMismatch        Kind = "DEVICE_MISMATCH"
	KindInvalidRefreshToken   Kind = "INVALID_REFRESH_TOKEN"
	KindTokenExpiredOrInvalid Kind = "TOKEN_EXPIRED_OR_INVALID"
	KindOtpExpiredOrInvalid   Kind = "OTP_EXPIRED_OR_INVALID"
	KindExternalAuthFailed    Kind = "EXTERNAL_AUTH_FAILED"
	KindNotFound              Kind = "NOT_FOUND"
	KindUnauthorized          Kind = "UNAUTHORIZED"
	KindForbidden             Kind = "FORBIDDEN"
	KindUnavailable           Kind = "UNAVAILABLE"
	KindInternal              Kind = "INTERNAL"
)

// Error is a classified failure. Two errors match under errors.Is when
// their kinds are equal, so callers compare against the sentinels below.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithMessage returns a copy carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Kind: e.Kind, Status: e.Status, Message: msg, Cause: e.Cause}
}

// WithCause returns a copy wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{Kind: e.Kind, Status: e.Status, Message: e.Message, Cause: cause}
}

// WithStatus returns a copy answering with a different HTTP status.
func (e *Error) WithStatus(status int) *Error {
	return &Error{Kind: e.Kind, Status: status, Message: e.Message, Cause: e.Cause}
}

func newError(kind Kind, status int, msg string) *Error {
	return &Error{Kind: kind, Status: status, Message: msg}
}

var (
	ErrInvalidInput          = newError(KindInvalidInput, http.StatusBadRequest, "invalid input")
	ErrDuplicateAccount      = newError(KindDuplicateAccount, http.StatusConflict, "an account with this email already exists")
	ErrInvalidCredentials    = newError(KindInvalidCredentials, http.StatusUnauthorized, "invalid credentials")
	ErrAccountBlocked        = newError(KindAccountBlocked, http.StatusForbidden, "account blocked")
	ErrDeviceMismatch        = newError(KindDeviceMismatch, http.StatusForbidden, "device does not match the registered device")
	ErrInvalidRefreshToken   = newError(KindInvalidRefreshToken, http.StatusUnauthorized, "invalid refresh token")
	ErrTokenExpiredOrInvalid = newError(KindTokenExpiredOrInvalid, http.StatusUnauthorized, "token expired or invalid")
	ErrOtpExpiredOrInvalid   = newError(KindOtpExpiredOrInvalid, http.StatusBadRequest, "otp expired or invalid")
	ErrExternalAuthFailed    = newError(KindExternalAuthFailed, http.StatusUnauthorized, "external authentication failed")
	ErrNotFound              = newError(KindNotFound, http.StatusNotFound, "not found")
	ErrUnauthorized          = newError(KindUnauthorized, http.StatusUnauthorized, "unauthorized")
	ErrForbidden             = newError(KindForbidden, http.StatusForbidden, "forbidden")
	ErrUnavailable           = newError(KindUnavailable, http.StatusServiceUnavailable, "service unavailable")
	ErrInternal              = newError(KindInternal, http.StatusInternalServerError, "internal error")
)

// Internal wraps an unexpected failure. The cause is kept for logging only.
func Internal(cause error) *Error {
	return ErrInternal.WithCause(cause)
}

// InvalidInput reports a validation failure with a caller-facing message.
func InvalidInput(msg string) *Error {
	return ErrInvalidInput.WithMessage(msg)
}

// As extracts the *Error from err. Unclassified errors come back as Internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return As(err).Status
}
