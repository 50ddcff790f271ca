package core

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone        ErrorCategory = iota // No error
	ErrCategoryAction                           // Browser action failed or raised
	ErrCategoryCondition                        // Condition could not be evaluated
	ErrCategoryControlFlow                      // Mismatched or malformed block structure
	ErrCategoryVariable                         // Variable store rejected an operation
	ErrCategoryConnection                       // Browser/automation session lost
	ErrCategoryConfig                           // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAction:
		return "action"
	case ErrCategoryCondition:
		return "condition"
	case ErrCategoryControlFlow:
		return "control_flow"
	case ErrCategoryVariable:
		return "variable"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
