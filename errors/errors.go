// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by the actor store when no state exists for a key.
	// An activation treats it as a fresh entity and starts from its default state.
	ErrNotFound = errors.New("state not found")

	// ErrVersionConflict is returned when an optimistic write carries a stale version.
	// The writing activation is discarded and the caller may retry after reactivation.
	ErrVersionConflict = errors.New("version conflict")

	// ErrActivationUnavailable is returned when the owning silo cannot be reached,
	// the call timed out, or the directory entry vanished after a membership change.
	// The gateway retries exactly once after re-resolving the owner.
	ErrActivationUnavailable = errors.New("activation unavailable")

	// ErrMembershipTimeout indicates the local membership view could not be refreshed
	// within the configured deadline. It is operator facing and never healed automatically.
	ErrMembershipTimeout = errors.New("membership view refresh timed out")

	// ErrDuplicateEvent flags an event already applied to the actor state.
	// It is swallowed by the delivery path.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrCorruptedState is returned when persisted state cannot be decoded.
	ErrCorruptedState = errors.New("corrupted state")

	// ErrNotOwner is returned when another live silo holds the activation of a key.
	ErrNotOwner = errors.New("activation is owned by another silo")

	// ErrSiloNotFound is returned when a silo record does not exist in the membership table.
	ErrSiloNotFound = errors.New("silo not found")

	// ErrSiloNotRunning is returned when an operation requires a started silo.
	ErrSiloNotRunning = errors.New("silo is not running")

	// ErrSiloAlreadyExists is returned when a silo record is inserted twice.
	ErrSiloAlreadyExists = errors.New("silo already exists")

	// ErrUnknownActorType is returned when no factory is registered for an actor type.
	ErrUnknownActorType = errors.New("unknown actor type")

	// ErrUnknownMethod is returned by actors for methods they do not handle.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrInvalidActorKey is returned for malformed actor keys.
	ErrInvalidActorKey = errors.New("invalid actor key")

	// ErrInvalidArgument is returned when method arguments cannot be decoded.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidReminder is returned for reminders with an empty name or a negative period.
	ErrInvalidReminder = errors.New("invalid reminder")

	// ErrReminderNotFound is returned when cancelling or reading an unknown reminder.
	ErrReminderNotFound = errors.New("reminder not found")

	// ErrRequestTimeout indicates an invocation did not complete before its deadline.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrActivationDiscarded is returned to callers queued on an activation that was
	// torn down before their turn ran.
	ErrActivationDiscarded = errors.New("activation discarded")

	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("store is closed")

	// ErrNoGateway is returned by the client when no active gateway is known.
	ErrNoGateway = errors.New("no active gateway")
)

// NewErrCorruptedState wraps a decoding failure with ErrCorruptedState.
func NewErrCorruptedState(key string, err error) error {
	return fmt.Errorf("key=(%s) %w: %w", key, ErrCorruptedState, err)
}

// NewErrVersionConflict formats an ErrVersionConflict for the given key and versions.
func NewErrVersionConflict(key string, expected, actual int64) error {
	return fmt.Errorf("key=(%s) expected=(%d) actual=(%d) %w", key, expected, actual, ErrVersionConflict)
}

// NewErrActivationUnavailable wraps a transport or timeout failure with ErrActivationUnavailable.
func NewErrActivationUnavailable(err error) error {
	return errors.Join(ErrActivationUnavailable, err)
}

// NewErrUnknownActorType formats an ErrUnknownActorType for the given type.
func NewErrUnknownActorType(actorType string) error {
	return fmt.Errorf("type=(%s) %w", actorType, ErrUnknownActorType)
}

// NewErrUnknownMethod formats an ErrUnknownMethod for the given method.
func NewErrUnknownMethod(method string) error {
	return fmt.Errorf("method=(%s) %w", method, ErrUnknownMethod)
}

// NewErrInvalidActorKey wraps a validation failure with ErrInvalidActorKey.
func NewErrInvalidActorKey(err error) error {
	return errors.Join(ErrInvalidActorKey, err)
}

// NewErrInvalidArgument wraps a decoding failure with ErrInvalidArgument.
func NewErrInvalidArgument(err error) error {
	return errors.Join(ErrInvalidArgument, err)
}

// NewErrSiloNotFound formats an ErrSiloNotFound for the given silo.
func NewErrSiloNotFound(siloID string) error {
	return fmt.Errorf("silo=(%s) %w", siloID, ErrSiloNotFound)
}

// NotOwnerError carries the silo that won the activation race for a key.
type NotOwnerError struct {
	Key   string
	Owner string
}

var _ error = (*NotOwnerError)(nil)

// NewNotOwnerError creates an instance of NotOwnerError
func NewNotOwnerError(key, owner string) *NotOwnerError {
	return &NotOwnerError{Key: key, Owner: owner}
}

// Error implements the standard error interface
func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("key=(%s) owner=(%s): %v", e.Key, e.Owner, ErrNotOwner)
}

// Unwrap exposes ErrNotOwner to errors.Is
func (e *NotOwnerError) Unwrap() error {
	return ErrNotOwner
}

// PanicError defines the panic error
// wrapping the underlying error
type PanicError struct {
	err error
}

var _ error = (*PanicError)(nil)

// NewPanicError creates an instance of PanicError
func NewPanicError(err error) *PanicError {
	return &PanicError{err}
}

// Error implements the standard error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.err)
}

func (e *PanicError) Unwrap() error {
	return e.err
}
