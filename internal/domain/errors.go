package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is matching across layers.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrStorage           = errors.New("storage failure")
	ErrOrphanedEvidence  = errors.New("orphaned payment evidence")
)

type ValidationError struct {
	Msg string
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type InvalidTransitionError struct {
	From   Status
	To     Status
	Reason string
	// Allowed lists the legal next statuses when the table rejected To.
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.Allowed) > 0 {
		next := make([]string, len(e.Allowed))
		for i, st := range e.Allowed {
			next[i] = string(st)
		}
		msg += " (allowed: " + strings.Join(next, ", ") + ")"
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StorageError marks upload or persistence I/O failures. Callers may retry.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// OrphanedEvidenceError reports an uploaded evidence object whose order was never created.
// Ref can be reused for a retry or discarded.
type OrphanedEvidenceError struct {
	Ref string
	Err error
}

func (e *OrphanedEvidenceError) Error() string {
	return fmt.Sprintf("order creation failed, evidence %s left orphaned: %v", e.Ref, e.Err)
}

func (e *OrphanedEvidenceError) Unwrap() error { return e.Err }

func (e *OrphanedEvidenceError) Is(target error) bool { return target == ErrOrphanedEvidence }
