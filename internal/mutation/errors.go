package mutation

import "fmt"

// InvalidOperationError reports an operation key outside the closed set.
type InvalidOperationError struct {
	Op string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("%q is an invalid operation", e.Op)
}

// RelationWriteError re-raises a datastore failure while writing a
// relation, tagged with the originating field.
type RelationWriteError struct {
	Field string
	Err   error
}

func (e *RelationWriteError) Error() string {
	return fmt.Sprintf("error on %s field: %v", e.Field, e.Err)
}

func (e *RelationWriteError) Unwrap() error { return e.Err }

// UnknownFieldError reports a payload key with no declared field.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("field %q is not found", e.Field)
}

// MalformedPayloadError reports a payload value whose shape does not match
// its field's declared kind.
type MalformedPayloadError struct {
	Field  string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload for field %q: %s", e.Field, e.Reason)
}
