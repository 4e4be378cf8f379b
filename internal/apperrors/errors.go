// Package apperrors defines the pipeline's error taxonomy: one parameterized
// error type carrying a stable code, rather than a struct per failure kind.
package apperrors

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Code is a stable machine-readable error classification, surfaced to
// callers of the public facade so they can branch on failure kind without
// string-matching messages.
type Code string

const (
	CodeDocumentTooLarge   Code = "document-too-large"
	CodeDocumentCorrupt    Code = "document-corrupt"
	CodeDocumentUnsupported Code = "document-unsupported"
	CodeDocumentEmpty      Code = "document-empty"
	CodePromptInputMissing Code = "prompt-input-missing"
	CodeModelUnreachable   Code = "model-unreachable"
	CodeModelUnavailable   Code = "model-unavailable"
	CodeModelTimeout       Code = "model-timeout"
	CodeModelOutputInvalid Code = "model-output-invalid"
	CodeQueueFull          Code = "queue-full"
	CodeCancelled          Code = "cancelled"
	CodeTimedOut           Code = "timed_out"
	CodeInternal           Code = "internal-error"
	CodeValidationFailed   Code = "validation-failed"
	CodeUnknownHandle      Code = "unknown-handle"
)

// Severity mirrors the teacher's gemini/errors.go severity levels.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// PipelineError is the single error type for every failure the pipeline
// produces. It replaces a family of near-identical ErrXxxFailed structs
// with one tagged variant carrying Code, Component and an optional
// wrapped cause.
type PipelineError struct {
	Code      Code
	Severity  Severity
	Message   string
	Component string
	Err       error

	logger *zap.Logger
}

// New builds a PipelineError with a default severity of Error.
func New(code Code, component, message string, err error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Severity:  SeverityError,
		Message:   message,
		Component: component,
		Err:       err,
	}
}

// Newf builds a PipelineError with a formatted message.
func Newf(code Code, component string, err error, format string, args ...any) *PipelineError {
	return New(code, component, fmt.Sprintf(format, args...), err)
}

// SetLogger attaches a logger so the error can log itself when constructed
// deep in a call stack far from where it is ultimately handled.
func (e *PipelineError) SetLogger(logger *zap.Logger) *PipelineError {
	e.logger = logger
	return e
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s/%s: %s - %v", e.Severity, e.Component, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s/%s: %s", e.Severity, e.Component, e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches on Code, so errors.Is(err, apperrors.New(CodeModelTimeout, ...))
// and sentinel comparisons via CodeOf both work.
func (e *PipelineError) Is(target error) bool {
	var other *PipelineError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the Code from err, if it is (or wraps) a *PipelineError.
// Returns "" for a nil err and CodeInternal for any other error, so callers
// always get a code for a non-nil error.
func CodeOf(err error) Code {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if err == nil {
		return ""
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
