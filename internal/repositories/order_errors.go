package repositories

import "fmt"

// OrderError categorises order persistence failures for service-level mapping.
type OrderError struct {
	Op          string
	Message     string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the order could not be located.
func (e *OrderError) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether a concurrent writer won the status commit.
func (e *OrderError) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the backend was unreachable.
func (e *OrderError) IsUnavailable() bool { return e != nil && e.unavailable }

// NewOrderNotFoundError constructs a not-found order error.
func NewOrderNotFoundError(message string, err error) *OrderError {
	return &OrderError{Message: message, Err: err, notFound: true}
}

// NewOrderConflictError constructs a conflict order error.
func NewOrderConflictError(message string, err error) *OrderError {
	return &OrderError{Message: message, Err: err, conflict: true}
}
