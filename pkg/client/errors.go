package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is missing, including the
	// refetch-and-search path used by reaction reconciliation.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized covers 401/403 responses.
	ErrUnauthorized = errors.New("not authorized")
	// ErrTooLarge is returned when an upload exceeds the client-side
	// size ceiling (checked before transmission).
	ErrTooLarge = errors.New("attachment too large")
)

// APIError carries a non-2xx response status and body excerpt.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}

func statusError(status int, body string) error {
	switch status {
	case 401, 403:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	case 404:
		return fmt.Errorf("%w: status %d", ErrNotFound, status)
	case 413:
		return fmt.Errorf("%w: status %d", ErrTooLarge, status)
	default:
		return &APIError{Status: status, Body: body}
	}
}
