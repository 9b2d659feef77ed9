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
)

// Code identifies a taxonomy error on the wire.
type Code string

const (
	CodeUnknown               Code = "unknown"
	CodeNotFound              Code = "not_found"
	CodeVersionConflict       Code = "version_conflict"
	CodeActivationUnavailable Code = "activation_unavailable"
	CodeMembershipTimeout     Code = "membership_timeout"
	CodeDuplicateEvent        Code = "duplicate_event"
	CodeCorruptedState        Code = "corrupted_state"
	CodeNotOwner              Code = "not_owner"
	CodeUnknownActorType      Code = "unknown_actor_type"
	CodeUnknownMethod         Code = "unknown_method"
	CodeInvalidActorKey       Code = "invalid_actor_key"
	CodeInvalidArgument       Code = "invalid_argument"
	CodeRequestTimeout        Code = "request_timeout"
	CodeSiloNotRunning        Code = "silo_not_running"
)

var codes = []struct {
	code Code
	err  error
}{
	{CodeNotOwner, ErrNotOwner},
	{CodeNotFound, ErrNotFound},
	{CodeVersionConflict, ErrVersionConflict},
	{CodeActivationUnavailable, ErrActivationUnavailable},
	{CodeMembershipTimeout, ErrMembershipTimeout},
	{CodeDuplicateEvent, ErrDuplicateEvent},
	{CodeCorruptedState, ErrCorruptedState},
	{CodeUnknownActorType, ErrUnknownActorType},
	{CodeUnknownMethod, ErrUnknownMethod},
	{CodeInvalidActorKey, ErrInvalidActorKey},
	{CodeInvalidArgument, ErrInvalidArgument},
	{CodeRequestTimeout, ErrRequestTimeout},
	{CodeSiloNotRunning, ErrSiloNotRunning},
}

// CodeOf returns the wire code of the first taxonomy error found in err's tree.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for _, entry := range codes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// RemoteError is an error received from another silo. It keeps the remote
// message and unwraps to the taxonomy sentinel matching its code.
type RemoteError struct {
	Code    Code
	Message string
}

var _ error = (*RemoteError)(nil)

// Error implements the standard error interface
func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap returns the sentinel matching the code, if any.
func (e *RemoteError) Unwrap() error {
	for _, entry := range codes {
		if entry.code == e.Code {
			return entry.err
		}
	}
	return nil
}

// FromCode rebuilds an error received over the wire. A not_owner code with an
// owner produces a *NotOwnerError so callers can redirect.
func FromCode(code Code, message, key, owner string) error {
	if code == "" {
		return nil
	}
	if code == CodeNotOwner && owner != "" {
		return NewNotOwnerError(key, owner)
	}
	return &RemoteError{Code: code, Message: message}
}
