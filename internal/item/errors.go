package item

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any store write.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized means the principal's role does not permit the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the target item does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrTransient means a store or identity call failed or timed out.
	// Nothing was partially applied; the caller may retry.
	ErrTransient = errors.New("transient failure")

	// ErrConflict means a compare-and-set lost a race. Resolve absorbs it.
	ErrConflict = errors.New("conflict")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// transient wraps a collaborator failure so it matches ErrTransient while
// keeping the cause reachable through errors.Is / errors.As.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
