package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: executor_disconnected, mismatched_block, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Action errors
	ErrActionFailed = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "action_failed",
		Message:  "action execution failed",
	}
	ErrUnknownAction = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "unknown_action",
		Message:  "unknown action type",
	}

	// Condition errors
	ErrUnknownCondition = &ExecutionError{
		Category: ErrCategoryCondition,
		Code:     "unknown_condition",
		Message:  "unknown condition type",
	}
	ErrMalformedCondition = &ExecutionError{
		Category: ErrCategoryCondition,
		Code:     "malformed_condition",
		Message:  "condition is malformed",
	}

	// Control flow errors
	ErrMismatchedBlock = &ExecutionError{
		Category: ErrCategoryControlFlow,
		Code:     "mismatched_block",
		Message:  "block terminator without matching opener",
	}
	ErrMissingTerminator = &ExecutionError{
		Category: ErrCategoryControlFlow,
		Code:     "missing_terminator",
		Message:  "block opener without matching terminator",
	}
	ErrInvalidJumpTarget = &ExecutionError{
		Category: ErrCategoryControlFlow,
		Code:     "invalid_jump_target",
		Message:  "jump target is out of range",
	}
	ErrNotIterable = &ExecutionError{
		Category: ErrCategoryControlFlow,
		Code:     "not_iterable",
		Message:  "collection variable is not iterable",
	}

	// Variable errors
	ErrVariableNotFound = &ExecutionError{
		Category: ErrCategoryVariable,
		Code:     "variable_not_found",
		Message:  "variable does not exist",
	}
	ErrInvalidVariableName = &ExecutionError{
		Category: ErrCategoryVariable,
		Code:     "invalid_variable_name",
		Message:  "variable name is not a valid identifier",
	}
	ErrCoercionFailed = &ExecutionError{
		Category: ErrCategoryVariable,
		Code:     "coercion_failed",
		Message:  "value cannot be converted to the declared type",
	}

	// Connection errors
	ErrExecutorDisconnected = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "executor_disconnected",
		Message:  "automation session lost",
	}
	ErrExecutorUnavailable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "executor_unavailable",
		Message:  "no action executor configured",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// ErrorCode extracts the machine-readable code from err, falling back to the
// Go type name for errors that are not ExecutionErrors.
func ErrorCode(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Code
	}
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
