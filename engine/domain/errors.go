package domain

import (
	"errors"
	"fmt"
)

// Sentinels for the error taxonomy. Match with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrGuardViolation = errors.New("guard violation")
	ErrInfrastructure = errors.New("infrastructure failure")
	ErrInvalidInput   = errors.New("invalid input")

	ErrEmptyField     = errors.New("field is required")
	ErrInvalidRole    = errors.New("unknown actor role")
	ErrNegativeMetric = errors.New("metric must not be negative")
	ErrPercentRange   = errors.New("percentage out of range")
)

// Entity kinds reported by NotFoundError.
const (
	KindBattery  = "battery"
	KindPassport = "passport"
	KindActor    = "actor"
	KindLocation = "location"
	KindEvent    = "event"
)

// NotFoundError reports a missing Battery, Passport, Actor, Location or Event.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound creates a NotFoundError.
func NotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// GuardReason says which precondition of a transition failed.
type GuardReason string

const (
	ReasonWrongStatus   GuardReason = "wrong_status"
	ReasonWrongRole     GuardReason = "wrong_role"
	ReasonNotOwner      GuardReason = "not_owner"
	ReasonEventConflict GuardReason = "event_conflict"
)

// GuardViolation is returned when the entities exist but the transition's
// state or identity precondition does not hold. The graph is left unchanged.
type GuardViolation struct {
	Transition string
	Reason     GuardReason
	Status     Status
	Detail     string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("%s: %s (status=%s): %s", e.Transition, e.Reason, e.Status, e.Detail)
}

func (e *GuardViolation) Is(target error) bool { return target == ErrGuardViolation }

// InfrastructureError wraps a store or transport failure unrelated to
// business rules.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }

// Infrastructure wraps err unless it already belongs to the domain taxonomy.
// A nil err stays nil.
func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrGuardViolation) ||
		errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInfrastructure) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
