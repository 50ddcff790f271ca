// Package condition evaluates flow conditions: element state via the
// executor's probe, variable comparisons, boolean composition, and scripted
// JavaScript checks. Every evaluation yields a boolean plus a human-readable
// message describing why.
package condition

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/browsergrid/flowkit/pkg/core"
	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/script"
	"github.com/browsergrid/flowkit/pkg/variable"
)

// DefaultTimeout is the element wait used when a condition does not set one.
const DefaultTimeout = 10.0

type handlerFunc func(*Evaluator, flow.Condition) (bool, string)

// handlers is the dispatch table. The condition type set is closed: anything
// not listed here is reported as unknown, never defaulted. Populated in init
// because the compound handlers call Evaluate, which reads the table.
var handlers map[flow.ConditionType]handlerFunc

func init() {
	handlers = map[flow.ConditionType]handlerFunc{
		flow.CondElementExists:     (*Evaluator).elementExists,
		flow.CondElementNotExists:  invert((*Evaluator).elementExists),
		flow.CondElementVisible:    (*Evaluator).elementVisible,
		flow.CondElementNotVisible: invert((*Evaluator).elementVisible),
		flow.CondElementEnabled:    (*Evaluator).elementEnabled,
		flow.CondElementDisabled:   invert((*Evaluator).elementEnabled),
		flow.CondTextEquals:        (*Evaluator).textEquals,
		flow.CondTextContains:      (*Evaluator).textContains,
		flow.CondTextMatches:       (*Evaluator).textMatches,
		flow.CondAttributeEquals:   (*Evaluator).attributeEquals,
		flow.CondAttributeContains: (*Evaluator).attributeContains,
		flow.CondAttributeMatches:  (*Evaluator).attributeMatches,

		flow.CondVariableEquals:       (*Evaluator).variableEquals,
		flow.CondVariableNotEquals:    invert((*Evaluator).variableEquals),
		flow.CondVariableGreater:      compareHandler(">"),
		flow.CondVariableLess:         compareHandler("<"),
		flow.CondVariableGreaterEqual: compareHandler(">="),
		flow.CondVariableLessEqual:    compareHandler("<="),
		flow.CondVariableContains:     (*Evaluator).variableContains,
		flow.CondVariableMatches:      (*Evaluator).variableMatches,
		flow.CondVariableEmpty:        (*Evaluator).variableEmpty,
		flow.CondVariableNotEmpty:     invert((*Evaluator).variableEmpty),
		flow.CondVariableExists:       (*Evaluator).variableExists,
		flow.CondVariableNotExists:    invert((*Evaluator).variableExists),

		flow.CondAnd: (*Evaluator).andCondition,
		flow.CondOr:  (*Evaluator).orCondition,
		flow.CondNot: (*Evaluator).notCondition,

		flow.CondJavascript: (*Evaluator).javascriptCondition,

		flow.CondAlwaysTrue: func(*Evaluator, flow.Condition) (bool, string) {
			return true, "always true"
		},
		flow.CondAlwaysFalse: func(*Evaluator, flow.Condition) (bool, string) {
			return false, "always false"
		},
	}
}

// invert wraps a positive handler into its negated variant, reusing the
// positive check's message.
func invert(h handlerFunc) handlerFunc {
	return func(e *Evaluator, c flow.Condition) (bool, string) {
		ok, msg := h(e, c)
		return !ok, "not: " + msg
	}
}

// Evaluator evaluates conditions against the variable store and, when
// available, the executor's element probe.
type Evaluator struct {
	vars           *variable.Store
	probe          core.ElementProbe
	js             *script.Engine
	defaultTimeout float64
}

// New creates an evaluator. probe may be nil; element conditions then report
// a capability failure instead of guessing.
func New(vars *variable.Store, probe core.ElementProbe) *Evaluator {
	return &Evaluator{
		vars:           vars,
		probe:          probe,
		js:             script.New(),
		defaultTimeout: DefaultTimeout,
	}
}

// SetDefaultTimeout overrides the element wait used by conditions that do not
// set their own. Non-positive values are ignored.
func (e *Evaluator) SetDefaultTimeout(seconds float64) {
	if seconds > 0 {
		e.defaultTimeout = seconds
	}
}

// Evaluate dispatches on the condition type and returns the outcome with a
// message explaining it. Evaluate never panics; malformed conditions come
// back as (false, reason).
func (e *Evaluator) Evaluate(c flow.Condition) (bool, string) {
	if c.Type == "" {
		return false, "condition has no type"
	}
	h, ok := handlers[c.Type]
	if !ok {
		return false, fmt.Sprintf("unknown condition type %q", c.Type)
	}
	return h(e, e.substitute(c))
}

// substitute expands ${...} templates in the condition's string fields.
func (e *Evaluator) substitute(c flow.Condition) flow.Condition {
	c.LocatorValue = e.vars.Expand(c.LocatorValue)
	c.ExpectedText = e.vars.Expand(c.ExpectedText)
	c.ExpectedValue = e.vars.Expand(c.ExpectedValue)
	c.Pattern = e.vars.Expand(c.Pattern)
	if s, ok := c.CompareValue.(string); ok {
		c.CompareValue = e.vars.Expand(s)
	}
	return c
}

func (e *Evaluator) timeout(c flow.Condition) float64 {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return e.defaultTimeout
}

// Element conditions

func (e *Evaluator) checkProbe(c flow.Condition) (string, bool) {
	if e.probe == nil {
		return "element conditions unavailable: executor has no element probe", false
	}
	if c.LocatorValue == "" {
		return "element condition has no locator", false
	}
	return "", true
}

func (e *Evaluator) elementExists(c flow.Condition) (bool, string) {
	if msg, ok := e.checkProbe(c); !ok {
		return false, msg
	}
	if e.probe.ElementExists(c.LocatorStrategy, c.LocatorValue, e.timeout(c)) {
		return true, fmt.Sprintf("element %s exists", c.LocatorValue)
	}
	return false, fmt.Sprintf("element %s does not exist", c.LocatorValue)
}

func (e *Evaluator) elementVisible(c flow.Condition) (bool, string) {
	if msg, ok := e.checkProbe(c); !ok {
		return false, msg
	}
	if e.probe.ElementVisible(c.LocatorStrategy, c.LocatorValue, e.timeout(c)) {
		return true, fmt.Sprintf("element %s is visible", c.LocatorValue)
	}
	return false, fmt.Sprintf("element %s is not visible", c.LocatorValue)
}

func (e *Evaluator) elementEnabled(c flow.Condition) (bool, string) {
	if msg, ok := e.checkProbe(c); !ok {
		return false, msg
	}
	if e.probe.ElementEnabled(c.LocatorStrategy, c.LocatorValue, e.timeout(c)) {
		return true, fmt.Sprintf("element %s is enabled", c.LocatorValue)
	}
	return false, fmt.Sprintf("element %s is disabled", c.LocatorValue)
}

func (e *Evaluator) elementText(c flow.Condition) (string, string, bool) {
	if msg, ok := e.checkProbe(c); !ok {
		return "", msg, false
	}
	text, err := e.probe.ElementText(c.LocatorStrategy, c.LocatorValue, e.timeout(c))
	if err != nil {
		return "", fmt.Sprintf("could not read text of %s: %v", c.LocatorValue, err), false
	}
	return text, "", true
}

func (e *Evaluator) textEquals(c flow.Condition) (bool, string) {
	text, msg, ok := e.elementText(c)
	if !ok {
		return false, msg
	}
	if text == c.ExpectedText {
		return true, fmt.Sprintf("text of %s equals %q", c.LocatorValue, c.ExpectedText)
	}
	return false, fmt.Sprintf("text of %s is %q, expected %q", c.LocatorValue, text, c.ExpectedText)
}

func (e *Evaluator) textContains(c flow.Condition) (bool, string) {
	text, msg, ok := e.elementText(c)
	if !ok {
		return false, msg
	}
	if strings.Contains(text, c.ExpectedText) {
		return true, fmt.Sprintf("text of %s contains %q", c.LocatorValue, c.ExpectedText)
	}
	return false, fmt.Sprintf("text of %s is %q, does not contain %q", c.LocatorValue, text, c.ExpectedText)
}

func (e *Evaluator) textMatches(c flow.Condition) (bool, string) {
	text, msg, ok := e.elementText(c)
	if !ok {
		return false, msg
	}
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid pattern %q: %v", c.Pattern, err)
	}
	if re.MatchString(text) {
		return true, fmt.Sprintf("text of %s matches %q", c.LocatorValue, c.Pattern)
	}
	return false, fmt.Sprintf("text of %s is %q, does not match %q", c.LocatorValue, text, c.Pattern)
}

func (e *Evaluator) elementAttribute(c flow.Condition) (string, string, bool) {
	if msg, ok := e.checkProbe(c); !ok {
		return "", msg, false
	}
	if c.AttributeName == "" {
		return "", "attribute condition has no attribute name", false
	}
	value, err := e.probe.ElementAttribute(c.LocatorStrategy, c.LocatorValue, c.AttributeName, e.timeout(c))
	if err != nil {
		return "", fmt.Sprintf("could not read attribute %s of %s: %v", c.AttributeName, c.LocatorValue, err), false
	}
	return value, "", true
}

func (e *Evaluator) attributeEquals(c flow.Condition) (bool, string) {
	value, msg, ok := e.elementAttribute(c)
	if !ok {
		return false, msg
	}
	if value == c.ExpectedValue {
		return true, fmt.Sprintf("attribute %s of %s equals %q", c.AttributeName, c.LocatorValue, c.ExpectedValue)
	}
	return false, fmt.Sprintf("attribute %s of %s is %q, expected %q", c.AttributeName, c.LocatorValue, value, c.ExpectedValue)
}

func (e *Evaluator) attributeContains(c flow.Condition) (bool, string) {
	value, msg, ok := e.elementAttribute(c)
	if !ok {
		return false, msg
	}
	if strings.Contains(value, c.ExpectedValue) {
		return true, fmt.Sprintf("attribute %s of %s contains %q", c.AttributeName, c.LocatorValue, c.ExpectedValue)
	}
	return false, fmt.Sprintf("attribute %s of %s is %q, does not contain %q", c.AttributeName, c.LocatorValue, value, c.ExpectedValue)
}

func (e *Evaluator) attributeMatches(c flow.Condition) (bool, string) {
	value, msg, ok := e.elementAttribute(c)
	if !ok {
		return false, msg
	}
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid pattern %q: %v", c.Pattern, err)
	}
	if re.MatchString(value) {
		return true, fmt.Sprintf("attribute %s of %s matches %q", c.AttributeName, c.LocatorValue, c.Pattern)
	}
	return false, fmt.Sprintf("attribute %s of %s is %q, does not match %q", c.AttributeName, c.LocatorValue, value, c.Pattern)
}

// Variable conditions

func (e *Evaluator) lookupVariable(c flow.Condition) (interface{}, string, bool) {
	if c.VariableName == "" {
		return nil, "variable condition has no variable name", false
	}
	value, ok := e.vars.Lookup(c.VariableName)
	if !ok {
		return nil, fmt.Sprintf("variable %q does not exist", c.VariableName), false
	}
	return value, "", true
}

func (e *Evaluator) variableEquals(c flow.Condition) (bool, string) {
	value, msg, ok := e.lookupVariable(c)
	if !ok {
		return false, msg
	}
	if equalValues(value, c.CompareValue) {
		return true, fmt.Sprintf("variable %s equals %v", c.VariableName, c.CompareValue)
	}
	return false, fmt.Sprintf("variable %s is %v, expected %v", c.VariableName, value, c.CompareValue)
}

// compareHandler builds a numeric ordering handler for the given operator.
func compareHandler(op string) handlerFunc {
	return func(e *Evaluator, c flow.Condition) (bool, string) {
		value, msg, ok := e.lookupVariable(c)
		if !ok {
			return false, msg
		}
		a, okA := toFloat(value)
		b, okB := toFloat(c.CompareValue)
		if !okA || !okB {
			return false, fmt.Sprintf("cannot compare %v and %v numerically", value, c.CompareValue)
		}
		var result bool
		switch op {
		case ">":
			result = a > b
		case "<":
			result = a < b
		case ">=":
			result = a >= b
		case "<=":
			result = a <= b
		}
		if result {
			return true, fmt.Sprintf("variable %s (%v) %s %v", c.VariableName, value, op, c.CompareValue)
		}
		return false, fmt.Sprintf("variable %s (%v) is not %s %v", c.VariableName, value, op, c.CompareValue)
	}
}

func (e *Evaluator) variableContains(c flow.Condition) (bool, string) {
	value, msg, ok := e.lookupVariable(c)
	if !ok {
		return false, msg
	}
	found := false
	switch v := value.(type) {
	case string:
		found = strings.Contains(v, variable.FormatValue(c.CompareValue))
	case []interface{}:
		for _, item := range v {
			if equalValues(item, c.CompareValue) {
				found = true
				break
			}
		}
	case map[string]interface{}:
		_, found = v[variable.FormatValue(c.CompareValue)]
	default:
		return false, fmt.Sprintf("variable %s (%T) does not support contains", c.VariableName, value)
	}
	if found {
		return true, fmt.Sprintf("variable %s contains %v", c.VariableName, c.CompareValue)
	}
	return false, fmt.Sprintf("variable %s does not contain %v", c.VariableName, c.CompareValue)
}

func (e *Evaluator) variableMatches(c flow.Condition) (bool, string) {
	value, msg, ok := e.lookupVariable(c)
	if !ok {
		return false, msg
	}
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid pattern %q: %v", c.Pattern, err)
	}
	text := variable.FormatValue(value)
	if re.MatchString(text) {
		return true, fmt.Sprintf("variable %s matches %q", c.VariableName, c.Pattern)
	}
	return false, fmt.Sprintf("variable %s (%q) does not match %q", c.VariableName, text, c.Pattern)
}

func (e *Evaluator) variableEmpty(c flow.Condition) (bool, string) {
	value, msg, ok := e.lookupVariable(c)
	if !ok {
		return false, msg
	}
	empty := false
	switch v := value.(type) {
	case nil:
		empty = true
	case string:
		empty = v == ""
	case []interface{}:
		empty = len(v) == 0
	case map[string]interface{}:
		empty = len(v) == 0
	}
	if empty {
		return true, fmt.Sprintf("variable %s is empty", c.VariableName)
	}
	return false, fmt.Sprintf("variable %s is not empty", c.VariableName)
}

func (e *Evaluator) variableExists(c flow.Condition) (bool, string) {
	if c.VariableName == "" {
		return false, "variable condition has no variable name"
	}
	if _, ok := e.vars.Lookup(c.VariableName); ok {
		return true, fmt.Sprintf("variable %s exists", c.VariableName)
	}
	return false, fmt.Sprintf("variable %s does not exist", c.VariableName)
}

// Compound conditions

func (e *Evaluator) andCondition(c flow.Condition) (bool, string) {
	if len(c.Conditions) == 0 {
		return false, "AND condition has no sub-conditions"
	}
	for i, child := range c.Conditions {
		ok, msg := e.Evaluate(child)
		if !ok {
			return false, fmt.Sprintf("AND failed at condition %d: %s", i, msg)
		}
	}
	return true, fmt.Sprintf("all %d conditions passed", len(c.Conditions))
}

func (e *Evaluator) orCondition(c flow.Condition) (bool, string) {
	if len(c.Conditions) == 0 {
		return false, "OR condition has no sub-conditions"
	}
	for i, child := range c.Conditions {
		ok, msg := e.Evaluate(child)
		if ok {
			return true, fmt.Sprintf("OR passed at condition %d: %s", i, msg)
		}
	}
	return false, fmt.Sprintf("none of %d conditions passed", len(c.Conditions))
}

func (e *Evaluator) notCondition(c flow.Condition) (bool, string) {
	if c.Child == nil {
		return false, "NOT condition has no sub-condition"
	}
	ok, msg := e.Evaluate(*c.Child)
	return !ok, "NOT: " + msg
}

// Script condition

func (e *Evaluator) javascriptCondition(c flow.Condition) (bool, string) {
	if c.Script == "" {
		return false, "javascript condition has no code"
	}
	if e.js == nil {
		return false, "javascript conditions unavailable: no script engine"
	}
	result, err := e.js.EvalBool(c.Script, e.vars.Snapshot())
	if err != nil {
		return false, fmt.Sprintf("script evaluation error: %v", err)
	}
	if result {
		return true, "script returned a truthy value"
	}
	return false, "script returned a falsy value"
}

// Helpers

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// equalValues compares loosely: values that both look numeric compare as
// numbers, so 5, 5.0 and "5" are equal; everything else falls back to deep
// equality and then string forms.
func equalValues(a, b interface{}) bool {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return variable.FormatValue(a) == variable.FormatValue(b)
}
