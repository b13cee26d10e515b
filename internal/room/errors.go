package room

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotReady matches every *NotReadyError.
	ErrNotReady = errors.New("not ready")
)

// ValidationError reports locally rejected input. Nothing was sent.
type ValidationError struct {
	Field  string // "identity", "text" or "author"
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotReadyError reports an action attempted in the wrong session state.
// Nothing was sent; it is distinct from a send that failed on the wire.
type NotReadyError struct {
	Op    string
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}
