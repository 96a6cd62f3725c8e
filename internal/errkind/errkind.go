// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package errkind classifies the failure taxonomy the orchestration core
// recognises, so callers can branch on kind without parsing messages.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the error classes the core distinguishes.
type Kind string

const (
	// ConfigurationError is fatal at startup.
	ConfigurationError Kind = "configuration"
	// TransientEndpointError is logged and retried on the next tick.
	TransientEndpointError Kind = "transient_endpoint"
	// TransientAdapterError is logged and retried on the next tick.
	TransientAdapterError Kind = "transient_adapter"
	// TransportError occurs during a copy; retried once within the job.
	TransportError Kind = "transport"
	// CopyFailed is terminal for a job and increments the retry counter.
	CopyFailed Kind = "copy_failed"
	// MetainfoMissing moves a record to ERROR immediately, no retry.
	MetainfoMissing Kind = "metainfo_missing"
	// StateStoreUnwritable is fatal to the process.
	StateStoreUnwritable Kind = "state_store_unwritable"
)

// Error wraps an underlying error with a Kind so callers can classify
// failures with errors.As instead of string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a classified error around an existing one.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Transient reports whether err should be retried on the next tick rather
// than surfaced on a record.
func Transient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case TransientEndpointError, TransientAdapterError:
		return true
	default:
		return false
	}
}

// FatalToRecord reports whether err should transition a record to ERROR.
func FatalToRecord(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case CopyFailed, MetainfoMissing:
		return true
	default:
		return false
	}
}

// FatalToProcess reports whether err should terminate the process.
func FatalToProcess(err error) bool {
	return Is(err, StateStoreUnwritable)
}
