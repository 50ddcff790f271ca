// Package debug implements interactive flow debugging: breakpoints, a
// pause/resume gate for the execution worker, variable watches, and
// performance sampling of the running process.
package debug

import (
	"github.com/google/uuid"
)

// Type discriminates breakpoint kinds.
type Type string

// Breakpoint type constants.
const (
	TypeLine      Type = "line"      // break when a step index is reached
	TypeCondition Type = "condition" // break when an expression over variables is truthy
	TypeError     Type = "error"     // break when any step fails
	TypeVariable  Type = "variable"  // break when a watched variable satisfies a comparison
)

// Operators accepted by variable breakpoints.
var ComparisonOperators = []string{"==", "!=", ">", "<", ">=", "<=", "in", "not in"}

// Breakpoint describes one breakpoint. Step indices are positional: editing
// the flow does not renumber existing breakpoints.
type Breakpoint struct {
	ID           string      `json:"id"`
	Type         Type        `json:"type"`
	StepIndex    int         `json:"step_index"`
	Condition    string      `json:"condition,omitempty"`     // condition breakpoints
	VariableName string      `json:"variable_name,omitempty"` // variable breakpoints
	Operator     string      `json:"operator,omitempty"`
	CompareValue interface{} `json:"compare_value,omitempty"`
	Enabled      bool        `json:"enabled"`
	HitCount     int         `json:"hit_count"`
}

// NewLineBreakpoint returns an enabled line breakpoint at the given step.
func NewLineBreakpoint(stepIndex int) *Breakpoint {
	return &Breakpoint{
		ID:        uuid.NewString(),
		Type:      TypeLine,
		StepIndex: stepIndex,
		Enabled:   true,
	}
}

// NewConditionBreakpoint returns an enabled condition breakpoint. The
// expression is evaluated over the visible variables each time the step is
// reached.
func NewConditionBreakpoint(stepIndex int, condition string) *Breakpoint {
	return &Breakpoint{
		ID:        uuid.NewString(),
		Type:      TypeCondition,
		StepIndex: stepIndex,
		Condition: condition,
		Enabled:   true,
	}
}

// NewErrorBreakpoint returns an enabled breakpoint that fires on any step
// failure, regardless of index.
func NewErrorBreakpoint() *Breakpoint {
	return &Breakpoint{
		ID:      uuid.NewString(),
		Type:    TypeError,
		Enabled: true,
	}
}

// NewVariableBreakpoint returns an enabled breakpoint that fires when the
// watched variable satisfies `current <op> compare`.
func NewVariableBreakpoint(variableName, operator string, compare interface{}) *Breakpoint {
	return &Breakpoint{
		ID:           uuid.NewString(),
		Type:         TypeVariable,
		VariableName: variableName,
		Operator:     operator,
		CompareValue: compare,
		Enabled:      true,
	}
}
