// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for the
// context-lifecycle engine.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies engine errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a workflow or record was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeRejected indicates packaging was refused for a stale or
	// invalid bundle. Rejections are decision points, not failures.
	CodeRejected ErrorCode = "REJECTED"

	// CodeCaptureFailed indicates a knowledge capture exhausted its
	// retries. It is logged internally and never surfaced to the
	// task that produced the record.
	CodeCaptureFailed ErrorCode = "CAPTURE_FAILED"

	// CodeConflictUnresolved signals a conflict-resolution invariant
	// violation. The resolver's total order guarantees a winner, so
	// this code marks a bug, not a runtime condition.
	CodeConflictUnresolved ErrorCode = "CONFLICT_UNRESOLVED"

	// CodeTimeout indicates an operation exceeded its caller-supplied
	// deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeStorage indicates a storage-layer error.
	CodeStorage ErrorCode = "STORAGE_ERROR"
)

// EngineError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type EngineError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	type Alias EngineError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new EngineError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *EngineError {
	return &EngineError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *EngineError) WithAttribute(key, value string) *EngineError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *EngineError) WithRecoverable(recoverable bool) *EngineError {
	e.Recoverable = recoverable
	return e
}

// AsEngineError attempts to convert an error to an EngineError.
// Returns the error as EngineError if it is one, or wraps it otherwise.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err is an EngineError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	ee, ok := err.(*EngineError)
	return ok && ee.Code == code
}
