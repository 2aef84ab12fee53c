package directory

import (
	"errors"
	"fmt"
)

// StatusError is returned when the directory API answers with an
// unexpected status code that has no more specific error type.
type StatusError struct {
	Expected int
	Got      int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("expected status %d, but was %d: %s", e.Expected, e.Got, e.Body)
}

// NotFoundError is returned for 404 responses. Callers treat it as
// recoverable: an update falls back to create, a delete is a no-op.
type NotFoundError struct {
	Body string
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Body
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// FieldIssue is one entry of a 422 validation error list.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for 422 responses carrying a structured
// field-level error list.
type ValidationError struct {
	Issues []FieldIssue `json:"errors"`
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	for _, issue := range e.Issues {
		msg += fmt.Sprintf("; %s: %s", issue.Field, issue.Message)
	}
	return msg
}

// OnlyField reports whether every issue of the validation error concerns
// the given field. Used for the photo retry: a 422 whose sole offending
// field is "photo" is retried once without that field.
func (e *ValidationError) OnlyField(field string) bool {
	if len(e.Issues) == 0 {
		return false
	}
	for _, issue := range e.Issues {
		if issue.Field != field {
			return false
		}
	}
	return true
}
