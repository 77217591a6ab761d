package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed directive definition.
// Raised at authoring time; invalid directives are never persisted.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid directive: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid directive: %s", e.Message)
}

// IsValidationError reports whether err is a ValidationError.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
