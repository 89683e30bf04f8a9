// Package apperr defines the error kinds shared by services and handlers.
// Services wrap a kind with context (fmt.Errorf("%w: ...", apperr.ErrNotFound))
// and callers classify with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrSignatureInvalid  = errors.New("invalid signature")
	ErrAmountMismatch    = errors.New("amount mismatch")
)

// TransitionError reports a status change that the order lifecycle does not allow.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Kind returns the sentinel kind err wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrInvalidState,
		ErrInvalidTransition,
		ErrConflict,
		ErrSignatureInvalid,
		ErrAmountMismatch,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
