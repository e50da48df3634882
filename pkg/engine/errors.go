package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents how far an error reaches within a provisioning run.
type ErrorClass string

const (
	// ErrorClassFatal aborts the whole run before any action executes.
	// Examples: unidentifiable OS, cyclic rule ordering, policy denial.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassAction is local to a single action and the subgraph depending on it.
	// Examples: failed package install, timeout, malformed version output.
	ErrorClassAction ErrorClass = "action"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Action is the action ID that produced the error, if applicable.
	Action string `json:"action,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Diagnostic holds captured command output relevant to the failure.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)
	if e.Action != "" && e.Operation != "" {
		fmt.Fprintf(&sb, " (action=%s, operation=%s)", e.Action, e.Operation)
	} else if e.Action != "" {
		fmt.Fprintf(&sb, " (action=%s)", e.Action)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithAction adds action context to an error.
func (e *EngineError) WithAction(actionID string) *EngineError {
	e.Action = actionID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDiagnostic attaches captured output to the error.
func (e *EngineError) WithDiagnostic(output string) *EngineError {
	e.Diagnostic = output
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes.
const (
	ErrCodeFactUnavailable  = "FACT_UNAVAILABLE"
	ErrCodeMalformedVersion = "MALFORMED_VERSION"
	ErrCodeCyclicDependency = "CYCLIC_DEPENDENCY"
	ErrCodeActionFailed     = "ACTION_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeConfigIO         = "CONFIG_IO"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewFatalError creates an error that aborts the run.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Message: message,
		Err:     err,
		Code:    ErrCodeInternal,
	}
}

// NewActionError creates an error scoped to a single action.
func NewActionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassAction,
		Message: message,
		Err:     err,
		Code:    ErrCodeActionFailed,
	}
}

// NewFactUnavailableError reports that a fact required for the whole run could not be gathered.
func NewFactUnavailableError(message string, err error) *EngineError {
	return NewFatalError(message, err).WithCode(ErrCodeFactUnavailable)
}

// NewMalformedVersionError reports text that does not parse as a dotted numeric version.
func NewMalformedVersionError(text string) *EngineError {
	return NewActionError(fmt.Sprintf("malformed version %q", text), nil).
		WithCode(ErrCodeMalformedVersion)
}

// NewCyclicDependencyError reports a dependency cycle along the given path.
func NewCyclicDependencyError(cycle []string) *EngineError {
	return NewFatalError(fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil).
		WithCode(ErrCodeCyclicDependency).
		WithDetail("cycle", cycle)
}

// NewTimeoutError reports an effect that exceeded its time budget.
func NewTimeoutError(actionID string, err error) *EngineError {
	return NewActionError("effect timed out", err).
		WithCode(ErrCodeTimeout).
		WithAction(actionID)
}

// NewConfigIOError reports a read, parse, or write failure for a structured config file.
func NewConfigIOError(operation, path string, err error) *EngineError {
	return NewActionError(fmt.Sprintf("config %s failed for %s", operation, path), err).
		WithCode(ErrCodeConfigIO).
		WithOperation(operation).
		WithDetail("path", path)
}

// NewValidationError reports an invalid ruleset, graph, or configuration.
func NewValidationError(message string) *EngineError {
	return NewFatalError(message, nil).WithCode(ErrCodeValidation)
}

// CodeOf returns the code of the first EngineError in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AsEngineError converts err into an EngineError, wrapping foreign errors as action failures.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return NewActionError("execution failed", err)
}

// IsFatal returns true if the error aborts the whole run.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// IsFactUnavailable returns true if the error is a missing required fact.
func IsFactUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeFactUnavailable
}

// IsMalformedVersion returns true if the error reports unparseable version text.
func IsMalformedVersion(err error) bool {
	return CodeOf(err) == ErrCodeMalformedVersion
}

// IsCyclicDependency returns true if the error reports a dependency cycle.
func IsCyclicDependency(err error) bool {
	return CodeOf(err) == ErrCodeCyclicDependency
}

// IsTimeout returns true if the error is an effect timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeTimeout
}

// IsConfigIO returns true if the error is a config patch failure.
func IsConfigIO(err error) bool {
	return CodeOf(err) == ErrCodeConfigIO
}
