package resolver

import "fmt"

// FieldNotFoundError reports a selected name absent from the entity's
// field set.
type FieldNotFoundError struct {
	Field string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field %q is not found", e.Field)
}

// NotNestedError reports a sub-selection applied to a non-nested field.
type NotNestedError struct {
	Field string
}

func (e *NotNestedError) Error() string {
	return fmt.Sprintf("%q is not a nested field", e.Field)
}

// ConflictingRestrictionsError reports allow and exclude lists set together.
type ConflictingRestrictionsError struct{}

func (e *ConflictingRestrictionsError) Error() string {
	return "may not set both allowed and excluded fields"
}
