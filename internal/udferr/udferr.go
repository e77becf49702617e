// Package udferr defines the error classes shared by the UDF data model.
//
// Two classes exist: validation failures (shape, type and length mismatches,
// missing wire fields) and resource failures (missing files, unsupported model
// frameworks, unreachable sources). Both are fatal to the current invocation.
// A lost storage race is not its own class; it surfaces as ErrNotFound.
package udferr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrMissingField = fmt.Errorf("missing field: %w", ErrValidation)
	ErrSizeMismatch = fmt.Errorf("size mismatch: %w", ErrValidation)
	ErrDomain       = fmt.Errorf("domain error: %w", ErrValidation)

	ErrResource             = errors.New("resource error")
	ErrNotFound             = fmt.Errorf("not found: %w", ErrResource)
	ErrUnsupportedFramework = fmt.Errorf("unsupported framework: %w", ErrResource)
	ErrUnreachable          = fmt.Errorf("unreachable source: %w", ErrResource)
)

// Missing reports an absent required wire field.
func Missing(where, field string) error {
	return fmt.Errorf("%s: %q: %w", where, field, ErrMissingField)
}

// Invalid wraps a formatted message as a validation failure.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsResource(err error) bool { return errors.Is(err, ErrResource) }

// Object is the structured error body handed back to the caller.
type Object struct {
	Message   string   `json:"message"`
	Traceback []string `json:"traceback,omitempty"`
}

// Report flattens err into an Object. The traceback lists each wrapped
// layer's message, outermost first, and is omitted for unwrapped errors.
func Report(err error) Object {
	if err == nil {
		return Object{}
	}
	out := Object{Message: err.Error()}
	for cur := errors.Unwrap(err); cur != nil; cur = errors.Unwrap(cur) {
		out.Traceback = append(out.Traceback, cur.Error())
	}
	return out
}
