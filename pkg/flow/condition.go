package flow

import (
	"fmt"
)

// ConditionType discriminates condition records. The set is closed; unknown
// values fail evaluation with an explicit message instead of defaulting.
type ConditionType string

// Condition type constants.
const (
	// Element conditions (delegated to the executor's element probe)
	CondElementExists     ConditionType = "element_exists"
	CondElementNotExists  ConditionType = "element_not_exists"
	CondElementVisible    ConditionType = "element_visible"
	CondElementNotVisible ConditionType = "element_not_visible"
	CondElementEnabled    ConditionType = "element_enabled"
	CondElementDisabled   ConditionType = "element_disabled"
	CondTextEquals        ConditionType = "text_equals"
	CondTextContains      ConditionType = "text_contains"
	CondTextMatches       ConditionType = "text_matches"
	CondAttributeEquals   ConditionType = "attribute_equals"
	CondAttributeContains ConditionType = "attribute_contains"
	CondAttributeMatches  ConditionType = "attribute_matches"

	// Variable conditions
	CondVariableEquals       ConditionType = "variable_equals"
	CondVariableNotEquals    ConditionType = "variable_not_equals"
	CondVariableGreater      ConditionType = "variable_greater_than"
	CondVariableLess         ConditionType = "variable_less_than"
	CondVariableGreaterEqual ConditionType = "variable_greater_equal"
	CondVariableLessEqual    ConditionType = "variable_less_equal"
	CondVariableContains     ConditionType = "variable_contains"
	CondVariableMatches      ConditionType = "variable_matches"
	CondVariableEmpty        ConditionType = "variable_is_empty"
	CondVariableNotEmpty     ConditionType = "variable_is_not_empty"
	CondVariableExists       ConditionType = "variable_exists"
	CondVariableNotExists    ConditionType = "variable_not_exists"

	// Compound conditions
	CondAnd ConditionType = "and"
	CondOr  ConditionType = "or"
	CondNot ConditionType = "not"

	// Script condition (JavaScript, truthiness of the result)
	CondJavascript ConditionType = "javascript"

	// Constant conditions
	CondAlwaysTrue  ConditionType = "always_true"
	CondAlwaysFalse ConditionType = "always_false"
)

// Condition is the polymorphic condition record dispatched on Type. Only the
// fields relevant to a given type are consulted.
type Condition struct {
	Type ConditionType `yaml:"condition_type" json:"condition_type"`

	// Element conditions
	LocatorStrategy string  `yaml:"locator_strategy,omitempty" json:"locator_strategy,omitempty"`
	LocatorValue    string  `yaml:"locator_value,omitempty" json:"locator_value,omitempty"`
	ExpectedText    string  `yaml:"expected_text,omitempty" json:"expected_text,omitempty"`
	AttributeName   string  `yaml:"attribute_name,omitempty" json:"attribute_name,omitempty"`
	ExpectedValue   string  `yaml:"expected_value,omitempty" json:"expected_value,omitempty"`
	Pattern         string  `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Timeout         float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Variable conditions
	VariableName string      `yaml:"variable_name,omitempty" json:"variable_name,omitempty"`
	CompareValue interface{} `yaml:"compare_value,omitempty" json:"compare_value,omitempty"`

	// Compound conditions
	Conditions []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Child      *Condition  `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Script condition
	Script string `yaml:"js_code,omitempty" json:"js_code,omitempty"`
}

// ConditionFromParams builds a Condition from a step's parameter map, the
// form IF_CONDITION steps carry. Nested compound conditions may appear either
// as Condition values or as raw maps (e.g. when loaded from JSON/YAML).
func ConditionFromParams(params map[string]interface{}) (Condition, error) {
	typ, _ := params["condition_type"].(string)
	if typ == "" {
		return Condition{}, fmt.Errorf("condition has no condition_type")
	}
	c := Condition{
		Type:            ConditionType(typ),
		LocatorStrategy: stringParam(params, "locator_strategy"),
		LocatorValue:    stringParam(params, "locator_value"),
		ExpectedText:    stringParam(params, "expected_text"),
		AttributeName:   stringParam(params, "attribute_name"),
		ExpectedValue:   stringParam(params, "expected_value"),
		Pattern:         stringParam(params, "pattern"),
		VariableName:    stringParam(params, "variable_name"),
		Script:          stringParam(params, "js_code"),
		CompareValue:    params["compare_value"],
	}
	if t, ok := params["timeout"]; ok {
		switch v := t.(type) {
		case float64:
			c.Timeout = v
		case int:
			c.Timeout = float64(v)
		}
	}
	if raw, ok := params["conditions"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return Condition{}, fmt.Errorf("conditions must be a list, got %T", raw)
		}
		for _, item := range list {
			child, err := childCondition(item)
			if err != nil {
				return Condition{}, err
			}
			c.Conditions = append(c.Conditions, child)
		}
	}
	if raw, ok := params["condition"]; ok {
		child, err := childCondition(raw)
		if err != nil {
			return Condition{}, err
		}
		c.Child = &child
	}
	return c, nil
}

func childCondition(raw interface{}) (Condition, error) {
	switch v := raw.(type) {
	case Condition:
		return v, nil
	case *Condition:
		return *v, nil
	case map[string]interface{}:
		return ConditionFromParams(v)
	default:
		return Condition{}, fmt.Errorf("nested condition must be a map or Condition, got %T", raw)
	}
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

// Params converts the condition back into the parameter-map form used on
// IF_CONDITION steps.
func (c Condition) Params() map[string]interface{} {
	p := map[string]interface{}{"condition_type": string(c.Type)}
	set := func(key, val string) {
		if val != "" {
			p[key] = val
		}
	}
	set("locator_strategy", c.LocatorStrategy)
	set("locator_value", c.LocatorValue)
	set("expected_text", c.ExpectedText)
	set("attribute_name", c.AttributeName)
	set("expected_value", c.ExpectedValue)
	set("pattern", c.Pattern)
	set("variable_name", c.VariableName)
	set("js_code", c.Script)
	if c.Timeout != 0 {
		p["timeout"] = c.Timeout
	}
	if c.CompareValue != nil {
		p["compare_value"] = c.CompareValue
	}
	if len(c.Conditions) > 0 {
		list := make([]interface{}, len(c.Conditions))
		for i, child := range c.Conditions {
			list[i] = child.Params()
		}
		p["conditions"] = list
	}
	if c.Child != nil {
		p["condition"] = c.Child.Params()
	}
	return p
}
