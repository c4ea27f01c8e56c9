package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates the current state does not allow the requested transition.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConflict indicates a concurrent or duplicate write lost.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyClaimed is a conflict raised when a ticket already has a claimer.
	ErrAlreadyClaimed = fmt.Errorf("already claimed: %w", ErrConflict)
	// ErrPermissionDenied indicates the actor lacks a required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrActorContextMissing indicates no actor was bound to the context.
	ErrActorContextMissing = errors.New("actor context missing")
	// ErrActorValidation indicates the bound actor cannot be used for the operation.
	ErrActorValidation = errors.New("actor validation failed")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInternal replaces storage errors shown to non-system actors.
	ErrInternal = errors.New("internal error")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// TransitionError reports a state precondition failure.
type TransitionError struct {
	Action string
	From   string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s from %s", e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// AlreadyClaimedError carries the current claimer so callers can report it.
type AlreadyClaimedError struct {
	ClaimedByID string
}

func (e *AlreadyClaimedError) Error() string {
	return "ticket already claimed by " + e.ClaimedByID
}

// Is matches ErrAlreadyClaimed and ErrConflict.
func (e *AlreadyClaimedError) Is(target error) bool {
	return target == ErrAlreadyClaimed || target == ErrConflict
}

// PermissionDeniedError lists the permission names that were required.
// Raw bitfield values are never included.
type PermissionDeniedError struct {
	Permissions []string
	ActorType   string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s required (actor %s)", strings.Join(e.Permissions, " or "), e.ActorType)
}

// Is matches ErrPermissionDenied.
func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// ActorValidationError explains why the bound actor was rejected.
type ActorValidationError struct {
	Reason string
}

func (e *ActorValidationError) Error() string { return "actor validation: " + e.Reason }

// Is matches ErrActorValidation.
func (e *ActorValidationError) Is(target error) bool { return target == ErrActorValidation }

// PublicError strips storage details from errors returned to non-system callers.
// Typed domain errors pass through untouched.
func PublicError(system bool, err error) error {
	if err == nil || system {
		return err
	}
	for _, known := range []error{
		ErrNotFound, ErrInvalidTransition, ErrConflict, ErrPermissionDenied,
		ErrActorContextMissing, ErrActorValidation, ErrValidation,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return ErrInternal
}
