package app

import (
	"errors"
	"fmt"
	"net/http"

	"dochub/api/internal/store"
)

type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindConflict         Kind = "CONFLICT"
	KindInvalidState     Kind = "INVALID_STATE"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindValidation       Kind = "VALIDATION_ERROR"
	KindUnavailable      Kind = "UNAVAILABLE"
)

var kindStatus = map[Kind]int{
	KindNotFound:         http.StatusNotFound,
	KindConflict:         http.StatusConflict,
	KindInvalidState:     http.StatusConflict,
	KindPermissionDenied: http.StatusForbidden,
	KindValidation:       http.StatusUnprocessableEntity,
	KindUnavailable:      http.StatusServiceUnavailable,
}

type DomainError struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the same call may succeed if repeated unchanged.
func (e *DomainError) Retryable() bool {
	return e != nil && e.Kind == KindUnavailable
}

func domainError(kind Kind, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Status:  kindStatus[kind],
		Code:    string(kind),
		Message: message,
		Details: details,
	}
}

// KindOf classifies err. Errors that are not domain errors report "".
func KindOf(err error) Kind {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

func validationError(fields map[string]string) *DomainError {
	return domainError(KindValidation, "Validation failed", fields)
}

// fromStore translates a storage error. Domain errors raised inside a
// transaction callback pass through unchanged.
func fromStore(err error, notFoundMessage string) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, store.ErrNotFound):
		return domainError(KindNotFound, notFoundMessage, nil)
	case errors.Is(err, store.ErrConflict):
		return domainError(KindConflict, "Conflicting write", nil)
	default:
		unavailable := domainError(KindUnavailable, "Storage unavailable, retry the request", nil)
		unavailable.cause = err
		return unavailable
	}
}
