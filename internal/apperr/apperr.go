// Package apperr defines the error kinds shared by the extraction pipeline.
// A Kind is itself an error, so callers can test wrapped errors with
// errors.Is(err, apperr.UploadError).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The retry policy and the per-file status report
// are both keyed on it.
type Kind string

const (
	NotFound              Kind = "not_found"
	InvalidArgument       Kind = "invalid_argument"
	ConversionError       Kind = "conversion_error"
	AuthError             Kind = "auth_error"
	UploadError           Kind = "upload_error"
	SchemaValidationError Kind = "schema_validation_error"
	ProviderError         Kind = "provider_error"
)

// Error implements the error interface so a Kind can be used as a sentinel.
func (k Kind) Error() string {
	return string(k)
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E wraps err with a kind and the name of the failing operation.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or the empty Kind if err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// Retryable reports whether the retry policy allows another attempt for err.
// SchemaValidationError is handled separately by a single re-prompt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case UploadError, ProviderError:
		return true
	default:
		return false
	}
}
