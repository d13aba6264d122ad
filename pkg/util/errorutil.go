package util

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError standardizes application errors. Message is always safe to
// show to clients; Err carries internal detail and is never serialized.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

// NewDuplicateUsername reports registration against a taken username.
func NewDuplicateUsername() error {
	return NewDomainError("DUPLICATE_USERNAME", "username is already taken", http.StatusBadRequest, nil)
}

// NewDuplicateEmail reports registration against an email already in use.
func NewDuplicateEmail() error {
	return NewDomainError("DUPLICATE_EMAIL", "email is already in use", http.StatusBadRequest, nil)
}

// NewInvalidCredentials covers both unknown usernames and wrong passwords so
// responses do not reveal which accounts exist.
func NewInvalidCredentials() error {
	return NewDomainError("INVALID_CREDENTIALS", "invalid username or password", http.StatusBadRequest, nil)
}

func NewNotFound(resource string) error {
	return NewDomainError("NOT_FOUND", fmt.Sprintf("%s not found", resource), http.StatusNotFound, nil)
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewRateLimited() error {
	return NewDomainError("RATE_LIMITED", "too many attempts, try again later", http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError, hiding internal
// detail behind a generic message.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
