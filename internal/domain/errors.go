package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that require an existing row.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed or missing input. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError reports a failed persistence operation. Nothing was
// partially applied.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it is nil or already one.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// RoutingDegradedError means the conversation lookup failed and the default
// agent was returned instead. It is safe to continue with Fallback.
type RoutingDegradedError struct {
	Key      ConversationKey
	Fallback string
	Err      error
}

func (e *RoutingDegradedError) Error() string {
	return fmt.Sprintf("routing degraded for %s, using %s: %v", e.Key, e.Fallback, e.Err)
}

func (e *RoutingDegradedError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRoutingDegraded reports whether err is a RoutingDegradedError.
func IsRoutingDegraded(err error) bool {
	var rd *RoutingDegradedError
	return errors.As(err, &rd)
}

// UpstreamError reports that a platform API rejected or failed an outbound
// call. Nothing was recorded.
type UpstreamError struct {
	Platform Platform
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s api returned %d: %v", e.Platform, e.Status, e.Err)
	}
	return fmt.Sprintf("%s api: %v", e.Platform, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
