package shared

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeInvalidTask     = "INVALID_TASK"
	CodeDuplicateID     = "DUPLICATE_ID"
	CodeInvalidResource = "INVALID_RESOURCE"
	CodeInvalidState    = "INVALID_STATE"
	CodeTimeout         = "TIMEOUT"
	CodeValidation      = "VALIDATION_ERROR"
	CodeExecution       = "EXECUTION_ERROR"
	CodeCoordination    = "COORDINATION_ERROR"
	CodeCancelled       = "CANCELLED"
)

// SwarmError is the base error type for all swarm errors.
type SwarmError struct {
	Message string                 `json:"message"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *SwarmError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode returns the machine readable code.
func (e *SwarmError) ErrorCode() string {
	return e.Code
}

// Is matches any SwarmError carrying the same code, so the sentinels below
// work with errors.Is regardless of the concrete subtype.
func (e *SwarmError) Is(target error) bool {
	t, ok := target.(*SwarmError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewSwarmError creates a new SwarmError.
func NewSwarmError(message, code string, details map[string]interface{}) *SwarmError {
	return &SwarmError{
		Message: message,
		Code:    code,
		Details: details,
	}
}

// Sentinels for errors.Is.
var (
	ErrInvalidTask     = &SwarmError{Code: CodeInvalidTask}
	ErrDuplicateID     = &SwarmError{Code: CodeDuplicateID}
	ErrInvalidResource = &SwarmError{Code: CodeInvalidResource}
	ErrInvalidState    = &SwarmError{Code: CodeInvalidState}
	ErrTimeout         = &SwarmError{Code: CodeTimeout}
	ErrValidation      = &SwarmError{Code: CodeValidation}
	ErrCoordination    = &SwarmError{Code: CodeCoordination}
)

// InvalidTaskError is returned for malformed task input.
type InvalidTaskError struct {
	SwarmError
}

// NewInvalidTaskError creates a new InvalidTaskError.
func NewInvalidTaskError(message string, details map[string]interface{}) *InvalidTaskError {
	return &InvalidTaskError{SwarmError{Message: message, Code: CodeInvalidTask, Details: details}}
}

// DuplicateIDError is returned when a worker id is already live.
type DuplicateIDError struct {
	SwarmError
}

// NewDuplicateIDError creates a new DuplicateIDError.
func NewDuplicateIDError(id string) *DuplicateIDError {
	return &DuplicateIDError{SwarmError{
		Message: fmt.Sprintf("worker %q is already live", id),
		Code:    CodeDuplicateID,
		Details: map[string]interface{}{"id": id},
	}}
}

// InvalidResourceError is returned for negative or over-ceiling resource requests.
type InvalidResourceError struct {
	SwarmError
}

// NewInvalidResourceError creates a new InvalidResourceError.
func NewInvalidResourceError(message string, details map[string]interface{}) *InvalidResourceError {
	return &InvalidResourceError{SwarmError{Message: message, Code: CodeInvalidResource, Details: details}}
}

// InvalidStateError is returned when an operation does not fit the current state.
type InvalidStateError struct {
	SwarmError
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(message string, details map[string]interface{}) *InvalidStateError {
	return &InvalidStateError{SwarmError{Message: message, Code: CodeInvalidState, Details: details}}
}

// TimeoutError marks work that exceeded its deadline.
type TimeoutError struct {
	SwarmError
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(message string, details map[string]interface{}) *TimeoutError {
	return &TimeoutError{SwarmError{Message: message, Code: CodeTimeout, Details: details}}
}

// ValidationError represents a configuration or argument error.
type ValidationError struct {
	SwarmError
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, details map[string]interface{}) *ValidationError {
	return &ValidationError{SwarmError{Message: message, Code: CodeValidation, Details: details}}
}

// ExecutionError wraps a failure raised by an executor.
type ExecutionError struct {
	SwarmError
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(message string, details map[string]interface{}) *ExecutionError {
	return &ExecutionError{SwarmError{Message: message, Code: CodeExecution, Details: details}}
}

// CoordinationError represents a failure while driving a wave.
type CoordinationError struct {
	SwarmError
}

// NewCoordinationError creates a new CoordinationError.
func NewCoordinationError(message string, details map[string]interface{}) *CoordinationError {
	return &CoordinationError{SwarmError{Message: message, Code: CodeCoordination, Details: details}}
}

// ErrorCode extracts the code of err. Errors outside the taxonomy map to
// EXECUTION_ERROR.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return CodeExecution
}
