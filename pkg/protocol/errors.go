// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package protocol

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an error for clients. Kinds appear verbatim in
// CommandResult.error and event payloads.
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "invalid_input"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindInvalidState   ErrorKind = "invalid_state"
	KindTimeout        ErrorKind = "timeout"
	KindCancelled      ErrorKind = "cancelled"
	KindBudgetExceeded ErrorKind = "budget_exceeded"
	KindBackendError   ErrorKind = "backend_error"
	KindUpstreamError  ErrorKind = "upstream_error"
	KindCircuitOpen    ErrorKind = "circuit_open"
)

// Error is the structured error surfaced over the wire.
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// WithDetail attaches a detail key/value and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError converts any error into a *Error. Errors that already carry a
// kind (possibly wrapped) keep it; context errors map to timeout and
// cancelled; everything else becomes backend_error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return NewError(KindCancelled, err.Error())
	}
	return NewError(KindBackendError, err.Error())
}

// KindOf returns the kind of an error, or backend_error when untagged.
func KindOf(err error) ErrorKind {
	return AsError(err).Kind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
