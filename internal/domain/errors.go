package domain

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Error kinds surfaced by the service. Callers match them with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("movie not found")
	ErrServiceUnavailable = errors.New("movie provider unavailable")
	ErrMapping            = errors.New("malformed provider payload")
)

// ValidationError carries the per-field failures of an entity or request.
type ValidationError struct {
	Fields validation.Errors
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Fields.Error()
}

// Is reports ValidationError as an ErrValidation kind.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Fields
}

// Validate runs the given field rules and returns a *ValidationError when any fail.
func Validate(fields validation.Errors) error {
	if err := fields.Filter(); err != nil {
		var errs validation.Errors
		if errors.As(err, &errs) {
			return &ValidationError{Fields: errs}
		}
		return err
	}
	return nil
}
