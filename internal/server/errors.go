package server

import (
	"errors"
	"net/http"
)

const (
	kindNotFound     = "not_found"
	kindUnauthorized = "unauthorized"
	kindForbidden    = "forbidden"
	kindInvalidState = "invalid_state"
	kindValidation   = "validation_error"
	kindModeration   = "moderation_rejected"
	kindExternal     = "external_service_error"
	kindConflict     = "concurrent_modification"
	kindInternal     = "internal_error"
)

// Causes carried by external_service_error, matching the image service
// failure taxonomy.
const (
	causeAuth        = "auth"
	causeRateLimited = "rate_limited"
	causeBadRequest  = "bad_request"
	causeTimeout     = "timeout"
	causeUnavailable = "unavailable"
)

// apiError is a recoverable, caller-visible failure with a stable kind.
// Every rejected action surfaces one of these rather than a generic error.
type apiError struct {
	kind    string
	cause   string
	message string
}

func (e *apiError) Error() string { return e.message }

func errNotFound(message string) error { return &apiError{kind: kindNotFound, message: message} }
func errUnauthorized(message string) error {
	return &apiError{kind: kindUnauthorized, message: message}
}
func errForbidden(message string) error { return &apiError{kind: kindForbidden, message: message} }
func errInvalidState(message string) error {
	return &apiError{kind: kindInvalidState, message: message}
}
func errValidation(message string) error { return &apiError{kind: kindValidation, message: message} }
func errModeration(reason string) error {
	return &apiError{kind: kindModeration, cause: reason, message: "prompt rejected by moderation: " + reason}
}
func errExternal(cause, message string) error {
	return &apiError{kind: kindExternal, cause: cause, message: message}
}
func errConflict(message string) error { return &apiError{kind: kindConflict, message: message} }
func errInternal(message string) error { return &apiError{kind: kindInternal, message: message} }

// errCodeGenerationExhausted is the sentinel for running out of join code
// attempts, so callers can tell code-space pressure apart from other
// internal failures.
var errCodeGenerationExhausted = &apiError{
	kind:    kindInternal,
	cause:   "code_generation_exhausted",
	message: "could not allocate a unique join code",
}

func errorKind(err error) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.kind
	}
	return kindInternal
}

func errorCause(err error) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.cause
	}
	return ""
}

func statusForKind(kind string) int {
	switch kind {
	case kindNotFound:
		return http.StatusNotFound
	case kindUnauthorized:
		return http.StatusUnauthorized
	case kindForbidden:
		return http.StatusForbidden
	case kindInvalidState, kindConflict:
		return http.StatusConflict
	case kindValidation:
		return http.StatusBadRequest
	case kindModeration:
		return http.StatusUnprocessableEntity
	case kindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
