package core

import (
	"time"
)

// Executor defines the interface for performing concrete browser actions.
// Implementations: simulated (for tests and demos), real browser backends.
// The engine handles flow logic; Executor just executes individual actions.
type Executor interface {
	// Initialize prepares the underlying automation session.
	// kind selects the backend (e.g. "chromium"), config carries backend options.
	Initialize(kind string, config map[string]interface{}) bool

	// ExecuteAction performs a single action and returns the result
	ExecuteAction(actionID string, params map[string]interface{}) *ActionResult

	// CheckConnection reports whether the automation session is still alive
	CheckConnection() bool

	// RequestStop asks the executor to interrupt any cooperative wait
	RequestStop()

	// ShouldStop reports whether a stop has been requested
	ShouldStop() bool

	// Close tears down the session
	Close()
}

// ElementProbe is the read-only element query surface used by the condition
// evaluator. Executors that support element conditions implement it alongside
// Executor; the evaluator degrades gracefully when it is absent.
type ElementProbe interface {
	ElementExists(strategy, value string, timeout float64) bool
	ElementVisible(strategy, value string, timeout float64) bool
	ElementEnabled(strategy, value string, timeout float64) bool
	ElementText(strategy, value string, timeout float64) (string, error)
	ElementAttribute(strategy, value, attribute string, timeout float64) (string, error)
}

// ActionResult represents the outcome of executing a single action
type ActionResult struct {
	// Core outcome. Err is non-nil when the action raised a hard error;
	// Success=false with a nil Err is an ordinary reported failure.
	Success  bool          `json:"success"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Payload carries data the action wants stored in a variable
	// (extracted text, attribute values, generated data)
	Payload *SavePayload `json:"payload,omitempty"`
}

// SavePayload asks the engine to store an action's output in a variable
type SavePayload struct {
	Variable string      `json:"variable"`
	Value    interface{} `json:"value"`
}

// Pass returns a passing result with the given message
func Pass(message string) *ActionResult {
	return &ActionResult{Success: true, Message: message}
}

// Fail returns a reported (non-raised) failure with the given message
func Fail(message string) *ActionResult {
	return &ActionResult{Success: false, Message: message}
}

// Raise returns a raised failure wrapping err
func Raise(err error) *ActionResult {
	return &ActionResult{Success: false, Err: err, Message: err.Error()}
}
