// Package script provides JavaScript evaluation for flow conditions and
// scripted steps.
package script

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/browsergrid/flowkit/pkg/logger"
)

// Engine wraps a goja runtime. A single engine is reused across evaluations;
// flow variables are re-injected before every run.
type Engine struct {
	runtime *goja.Runtime
	mu      sync.Mutex
}

// New creates a new JS engine instance
func New() *Engine {
	e := &Engine{runtime: goja.New()}
	e.setupConsole()
	return e
}

// setupConsole adds console.log, console.warn, console.error routed to the
// flow log.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			switch level {
			case "error":
				logger.Error("js: %v", args)
			case "warn":
				logger.Warn("js: %v", args)
			default:
				logger.Info("js: %v", args)
			}
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc("info"))
	console.Set("warn", makeConsoleFunc("warn"))
	console.Set("error", makeConsoleFunc("error"))
	e.runtime.Set("console", console)
}

// Eval evaluates a script with the given variables bound as the global
// `variables` object, and returns the exported result.
func (e *Engine) Eval(code string, variables map[string]interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if variables == nil {
		variables = map[string]interface{}{}
	}
	e.runtime.Set("variables", variables)

	// Wrap in a function so both expressions and multi-statement scripts
	// with an explicit return work.
	wrapped := fmt.Sprintf("(function() { return (%s); })()", code)
	result, err := e.runtime.RunString(wrapped)
	if err != nil {
		// Retry as a statement body for scripts that are not expressions.
		wrapped = fmt.Sprintf("(function() { %s })()", code)
		result, err = e.runtime.RunString(wrapped)
		if err != nil {
			return nil, fmt.Errorf("JS eval error: %w", err)
		}
	}
	return result.Export(), nil
}

// EvalBool evaluates a script and reduces the result to its truthiness.
func (e *Engine) EvalBool(code string, variables map[string]interface{}) (bool, error) {
	result, err := e.Eval(code, variables)
	if err != nil {
		return false, err
	}
	return Truthy(result), nil
}

// Truthy applies JavaScript-style truthiness to an exported value.
func Truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []interface{}:
		return true
	case map[string]interface{}:
		return true
	default:
		return true
	}
}
