package portfolio

import (
	"errors"
)

var (
	// ErrRefreshInProgress is returned when a refresh run is requested while one is active
	ErrRefreshInProgress = errors.New("a price refresh is already running")

	// ErrNotFound is returned when no Holding has the requested id
	ErrNotFound = errors.New("holding not found")

	// ErrPriceUnavailable is returned when a sell cannot obtain a live price
	ErrPriceUnavailable = errors.New("unable to fetch live price")

	// ErrClosed is returned after the service has been closed
	ErrClosed = errors.New("portfolio service closed")
)

// ValidationError is a user-correctable input problem. The operation that
// returned it made no change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
