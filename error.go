package perfopt

import (
	"fmt"
)

// CleanupError is a failure inside a memory cleanup tier. Cleanup is best
// effort, so these are logged and reported to hooks but never returned to
// request handling.
type CleanupError struct {
	Tier string
	Op   string
	Err  error
}

// Error implements the error interface
func (e *CleanupError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s cleanup: %s: %v", e.Tier, e.Op, e.Err)
	}
	return fmt.Sprintf("%s cleanup: %v", e.Tier, e.Err)
}

// Unwrap returns the underlying error
func (e *CleanupError) Unwrap() error {
	return e.Err
}

// NewCleanupError creates a cleanup error
func NewCleanupError(tier, op string, err error) *CleanupError {
	return &CleanupError{Tier: tier, Op: op, Err: err}
}

// RecoveredError wraps a value recovered from a panic
func RecoveredError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
