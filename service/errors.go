package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both never-existed and deleted records; callers
	// must not be able to tell the difference.
	ErrNotFound = errors.New("book not found")

	// ErrRemoteUnavailable wraps transport-level failures. Retryable by
	// user action only; no automatic retry happens in this layer.
	ErrRemoteUnavailable = errors.New("remote service unavailable")

	ErrAccountExists         = errors.New("an account with this email already exists")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrNotAuthenticated      = errors.New("you must be logged in")
	ErrInvalidRedirectDomain = errors.New("redirect URL domain is not allowed")
	ErrLinkExpired           = errors.New("link is invalid or expired")
	ErrInvalidToken          = errors.New("invalid or expired token")
	ErrVerificationFailed    = errors.New("verification failed, request a new verification email")
)

// ValidationError is raised before any network call is attempted: bad file
// type, missing required field. The message is safe to show to a user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func validationErr(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// APIError is a non-2xx response from the backend, decoded from its JSON
// error body.
type APIError struct {
	Status  int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// statusOf extracts the HTTP status from an APIError in err's chain, or 0.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
