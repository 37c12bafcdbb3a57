// Package util provides logging helpers and the error kinds shared by the
// hardware-object agent.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// test with errors.Is.
var (
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrNotFound          = errors.New("entry not found")
	ErrDependencyMissing = errors.New("required dependency missing")
	ErrHardwareCall      = errors.New("hardware call failed")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrValidationFailed  = errors.New("validation failed")
)

// DuplicateEntryError is returned when an add targets a key that is already
// managed.
type DuplicateEntryError struct {
	Kind string
	Key  string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Key)
}

func (e *DuplicateEntryError) Unwrap() error {
	return ErrDuplicateEntry
}

// NewDuplicateEntryError creates a duplicate entry error
func NewDuplicateEntryError(kind, key string) *DuplicateEntryError {
	return &DuplicateEntryError{Kind: kind, Key: key}
}

// NotFoundError is returned when a remove or change targets an unknown key.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// HardwareCallError wraps a failed hardware API call. Err carries the
// SDK status returned by the backend.
type HardwareCallError struct {
	Op         string
	ObjectType string
	Key        string
	Err        error
}

func (e *HardwareCallError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.ObjectType, e.Key, e.Err)
}

func (e *HardwareCallError) Unwrap() []error {
	return []error{ErrHardwareCall, e.Err}
}

// NewHardwareCallError creates a hardware call error
func NewHardwareCallError(op, objectType, key string, err error) *HardwareCallError {
	return &HardwareCallError{Op: op, ObjectType: objectType, Key: key, Err: err}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// DependencyError represents a missing dependency
type DependencyError struct {
	Resource      string
	DependsOn     string
	DependsOnType string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s requires %s '%s' to exist", e.Resource, e.DependsOnType, e.DependsOn)
}

func (e *DependencyError) Unwrap() error {
	return ErrDependencyMissing
}

// NewDependencyError creates a dependency error
func NewDependencyError(resource, dependsOnType, dependsOn string) *DependencyError {
	return &DependencyError{
		Resource:      resource,
		DependsOn:     dependsOn,
		DependsOnType: dependsOnType,
	}
}
