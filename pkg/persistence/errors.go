package persistence

import (
	"errors"
	"fmt"
)

var ErrValidation = errors.New("validation failed")

// ValidationError is returned before any side effect when the arguments of an
// operation are inconsistent.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ensureOnlyOneSet fails unless exactly one of values is non-empty.
func ensureOnlyOneSet(msg string, values ...string) error {
	set := 0
	for _, v := range values {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return &ValidationError{Msg: msg}
	}
	return nil
}
