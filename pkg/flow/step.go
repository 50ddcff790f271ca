// Package flow defines the step model for browser automation flows: a flat
// ordered list of steps with control-flow markers, plus the condition records
// used by IF steps and breakpoints.
package flow

import (
	"fmt"
)

// ActionID identifies what a step does.
type ActionID string

// Action ID constants.
const (
	// Control flow markers
	ActionIf         ActionID = "IF_CONDITION"
	ActionElse       ActionID = "ELSE_CONDITION"
	ActionEndIf      ActionID = "END_IF_CONDITION"
	ActionForLoop    ActionID = "FOR_LOOP"
	ActionEndFor     ActionID = "END_FOR_LOOP"
	ActionForeach    ActionID = "FOREACH_LOOP"
	ActionEndForeach ActionID = "END_FOREACH_LOOP"
	ActionTry        ActionID = "TRY_BLOCK"
	ActionCatch      ActionID = "CATCH_BLOCK"
	ActionFinally    ActionID = "FINALLY_BLOCK"
	ActionEndTry     ActionID = "END_TRY_BLOCK"

	// Variable management
	ActionSetVariable    ActionID = "SET_VARIABLE"
	ActionDeleteVariable ActionID = "DELETE_VARIABLE"
	ActionClearVariables ActionID = "CLEAR_VARIABLES"
	ActionDeleteFlow     ActionID = "DELETE_FLOW"

	// Inline utility actions handled by the engine itself
	ActionWaitSeconds ActionID = "WAIT_SECONDS"
	ActionLogMessage  ActionID = "LOG_MESSAGE"

	// Browser actions delegated to the executor
	ActionOpenBrowser       ActionID = "OPEN_BROWSER"
	ActionCloseBrowser      ActionID = "CLOSE_BROWSER"
	ActionNavigate          ActionID = "PAGE_GET"
	ActionClick             ActionID = "ELEMENT_CLICK"
	ActionInput             ActionID = "ELEMENT_INPUT"
	ActionWaitForElement    ActionID = "WAIT_FOR_ELEMENT"
	ActionExtractText       ActionID = "EXTRACT_TEXT"
	ActionExtractAttribute  ActionID = "EXTRACT_ATTRIBUTE"
	ActionTakeScreenshot    ActionID = "TAKE_SCREENSHOT"
	ActionScrollPage        ActionID = "SCROLL_PAGE"
	ActionExecuteJavascript ActionID = "EXECUTE_JAVASCRIPT"
)

// IsControlFlow reports whether the action is handled by the engine's
// control-flow dispatcher rather than delegated to the executor.
func (a ActionID) IsControlFlow() bool {
	switch a {
	case ActionIf, ActionElse, ActionEndIf,
		ActionForLoop, ActionEndFor,
		ActionForeach, ActionEndForeach,
		ActionTry, ActionCatch, ActionFinally, ActionEndTry:
		return true
	default:
		return false
	}
}

// Step is one entry in a flow's flat step list. Control-flow structure is
// expressed positionally: IF/ELSE/END_IF and friends are ordinary steps and
// nesting is recovered by scanning, never by a step tree.
type Step struct {
	ActionID ActionID               `yaml:"action" json:"action_id"`
	Params   map[string]interface{} `yaml:"params,omitempty" json:"parameters,omitempty"`
	Enabled  bool                   `yaml:"enabled" json:"enabled"`
	OnError  *ErrorConfig           `yaml:"on_error,omitempty" json:"error_handler,omitempty"`
}

// NewStep returns an enabled step with the given action and parameters.
func NewStep(action ActionID, params map[string]interface{}) Step {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Step{ActionID: action, Params: params, Enabled: true}
}

// Describe returns a short human-readable description of the step.
func (s Step) Describe() string {
	if msg, ok := s.Params["description"].(string); ok && msg != "" {
		return fmt.Sprintf("%s (%s)", s.ActionID, msg)
	}
	return string(s.ActionID)
}

// StringParam returns the named parameter as a string, with a default.
func (s Step) StringParam(key, def string) string {
	if v, ok := s.Params[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
		return fmt.Sprintf("%v", v)
	}
	return def
}

// ErrorConfig declares how failures of a step should be recovered.
type ErrorConfig struct {
	Strategy    string  `yaml:"strategy" json:"strategy"` // continue, retry, stop, jump, custom
	RetryDelay  float64 `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	MaxRetries  int     `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	JumpToStep  *int    `yaml:"jump_to_step,omitempty" json:"jump_to_step,omitempty"`
	CustomSteps []Step  `yaml:"custom_steps,omitempty" json:"custom_steps,omitempty"`
}
