// Package engineerrors defines the seven engine-level error kinds and a
// field-validation aggregate, following the sentinel-error plus
// ValidationError pattern the rest of this module's ancestry uses.
package engineerrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument marks malformed input: unspecified-kind times,
	// an empty types filter, an invalid IANA zone, an invalid RRULE,
	// non-positive duration, or a field-length violation.
	ErrInvalidArgument = errors.New("engine: invalid argument")
	// ErrImmutableFieldViolation marks an update attempting to change a
	// field the data model declares immutable.
	ErrImmutableFieldViolation = errors.New("engine: immutable field violation")
	// ErrInvalidOperation marks a call against the wrong entry point for
	// an entry's variant, or an entry whose variant cannot be determined.
	ErrInvalidOperation = errors.New("engine: invalid operation")
	// ErrNotFound marks an entity id absent from its tenant scope.
	ErrNotFound = errors.New("engine: not found")
	// ErrCancelled marks cooperative cancellation of an in-flight
	// operation.
	ErrCancelled = errors.New("engine: cancelled")
	// ErrBackend wraps an opaque repository/storage fault.
	ErrBackend = errors.New("engine: backend fault")
)

// MonthDayOutOfBoundsError is the creation-time signal raised when a
// monthly recurrence's anchor day does not exist in every month the
// recurrence spans and the caller asked for Throw semantics.
type MonthDayOutOfBoundsError struct {
	DayOfMonth     int
	AffectedMonths []int // 1-12, the calendar months lacking DayOfMonth
}

func (e *MonthDayOutOfBoundsError) Error() string {
	return fmt.Sprintf("engine: day %d does not exist in months %v; re-issue with Skip or Clamp", e.DayOfMonth, e.AffectedMonths)
}

// Is lets errors.Is(err, ErrInvalidArgument) match a
// MonthDayOutOfBoundsError: it is a creation-time validation signal in
// the same family, just carrying structured detail.
func (e *MonthDayOutOfBoundsError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// ValidationError aggregates field-level validation failures from the
// Creation Validator (C5).
type ValidationError struct {
	FieldErrors map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.FieldErrors) == 0 {
		return "engine: validation failed"
	}
	parts := make([]string, 0, len(e.FieldErrors))
	for field, msg := range e.FieldErrors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "engine: validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidArgument) match a *ValidationError;
// field validation failures are a subset of invalid-argument errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func (e *ValidationError) add(field, message string) {
	if e.FieldErrors == nil {
		e.FieldErrors = make(map[string]string)
	}
	e.FieldErrors[field] = message
}

// Add records a field-level validation failure.
func (e *ValidationError) Add(field, message string) {
	e.add(field, message)
}

func (e *ValidationError) merge(other *ValidationError) {
	if other == nil {
		return
	}
	for field, msg := range other.FieldErrors {
		e.add(field, msg)
	}
}

// Merge folds another ValidationError's field errors into this one.
func (e *ValidationError) Merge(other *ValidationError) {
	e.merge(other)
}

// HasErrors reports whether any field error has been recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.FieldErrors) > 0
}

// Kind returns a stable label for err, used as a structured logging
// attribute. Unrecognized errors are labeled "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var monthDay *MonthDayOutOfBoundsError
	switch {
	case errors.As(err, &monthDay):
		return "month_day_out_of_bounds"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrImmutableFieldViolation):
		return "immutable_field_violation"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrBackend):
		return "backend"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "unknown"
	}
}
