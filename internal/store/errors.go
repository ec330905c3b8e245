// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package store

import (
	"errors"
	"fmt"
)

// Code classifies a gateway error for retry and presentation decisions.
type Code string

const (
	CodeInvalid      Code = "INVALID"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeInternal     Code = "INTERNAL"
)

// Error is the typed error returned by the data store gateway.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed gateway error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches a code to an underlying error.
func WrapError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the error code, defaulting to INTERNAL for untyped errors.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// Retryable reports whether an error is transient. Client-fault codes are
// never retried; rate limiting, unavailability, and unknown server faults
// are.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeInvalid, CodeNotFound, CodeUnauthorized, CodeForbidden, CodeConflict:
		return false
	default:
		return true
	}
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}
