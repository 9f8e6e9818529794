package model

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a query or verification range that references
// sequences beyond the committed chain. Distinct from an empty page.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a malformed append or query request before
// any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
