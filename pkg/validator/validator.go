// Package validator checks flow files before execution. It parses each file
// and verifies block structure, condition parameters, and error policies so
// structural mistakes surface before a run instead of mid-flow.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/recovery"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Step    int // -1 for file-level errors
	Message string
}

func (e *ValidationError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("%s: step %d: %s", e.File, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Files is the list of flow file paths in discovery order.
	Files []string
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates flow files.
type Validator struct{}

// New creates a new Validator.
func New() *Validator {
	return &Validator{}
}

// Validate validates a file or directory of flow files.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Step:    -1,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectFlowFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Step:    -1,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		v.validateFile(file, result)
	}

	return result
}

// ValidateFlow checks a parsed flow's structure without touching the
// filesystem. The file name is used only for error context.
func (v *Validator) ValidateFlow(file string, f *flow.Flow) []error {
	var errs []error
	addErr := func(step int, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{
			File:    file,
			Step:    step,
			Message: fmt.Sprintf(format, args...),
		})
	}

	checkBlocks(f.Steps, addErr)
	for i, step := range f.Steps {
		checkCondition(i, step, addErr)
		checkErrorConfig(i, len(f.Steps), step, addErr)
	}
	return errs
}

// collectFlowFiles finds all .yaml/.yml files in a directory.
func collectFlowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func (v *Validator) validateFile(filePath string, result *Result) {
	f, err := flow.Load(filePath)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Step:    -1,
			Message: fmt.Sprintf("parse error: %v", err),
		})
		return
	}

	result.Files = append(result.Files, filePath)
	result.Errors = append(result.Errors, v.ValidateFlow(filePath, f)...)
}

type errFunc func(step int, format string, args ...interface{})

// blockOpen tracks one unclosed block during the structural scan.
type blockOpen struct {
	action  flow.ActionID
	index   int
	sawElse bool
	sawCat  bool
	sawFin  bool
}

// checkBlocks verifies that every control-flow opener has a matching
// terminator, and that ELSE/CATCH/FINALLY appear only inside the right block
// and in the right order.
func checkBlocks(steps []flow.Step, addErr errFunc) {
	var stack []*blockOpen
	top := func() *blockOpen {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}
	pop := func() { stack = stack[:len(stack)-1] }

	for i, step := range steps {
		switch step.ActionID {
		case flow.ActionIf, flow.ActionForLoop, flow.ActionForeach, flow.ActionTry:
			stack = append(stack, &blockOpen{action: step.ActionID, index: i})

		case flow.ActionElse:
			t := top()
			if t == nil || t.action != flow.ActionIf {
				addErr(i, "ELSE outside an IF block")
			} else if t.sawElse {
				addErr(i, "duplicate ELSE in IF block opened at step %d", t.index)
			} else {
				t.sawElse = true
			}

		case flow.ActionEndIf:
			if t := top(); t == nil || t.action != flow.ActionIf {
				addErr(i, "END_IF without matching IF")
			} else {
				pop()
			}

		case flow.ActionEndFor:
			if t := top(); t == nil || t.action != flow.ActionForLoop {
				addErr(i, "END_FOR_LOOP without matching FOR_LOOP")
			} else {
				pop()
			}

		case flow.ActionEndForeach:
			if t := top(); t == nil || t.action != flow.ActionForeach {
				addErr(i, "END_FOREACH_LOOP without matching FOREACH_LOOP")
			} else {
				pop()
			}

		case flow.ActionCatch:
			t := top()
			if t == nil || t.action != flow.ActionTry {
				addErr(i, "CATCH_BLOCK outside a TRY block")
			} else if t.sawCat {
				addErr(i, "duplicate CATCH in TRY block opened at step %d", t.index)
			} else if t.sawFin {
				addErr(i, "CATCH_BLOCK after FINALLY_BLOCK")
			} else {
				t.sawCat = true
			}

		case flow.ActionFinally:
			t := top()
			if t == nil || t.action != flow.ActionTry {
				addErr(i, "FINALLY_BLOCK outside a TRY block")
			} else if t.sawFin {
				addErr(i, "duplicate FINALLY in TRY block opened at step %d", t.index)
			} else {
				t.sawFin = true
			}

		case flow.ActionEndTry:
			if t := top(); t == nil || t.action != flow.ActionTry {
				addErr(i, "END_TRY_BLOCK without matching TRY_BLOCK")
			} else {
				pop()
			}
		}
	}

	for _, open := range stack {
		addErr(open.index, "%s is never closed", open.action)
	}
}

// checkCondition verifies that IF steps carry a parseable condition.
func checkCondition(i int, step flow.Step, addErr errFunc) {
	if step.ActionID != flow.ActionIf {
		return
	}
	if _, err := flow.ConditionFromParams(step.Params); err != nil {
		addErr(i, "invalid condition: %v", err)
	}
}

// checkErrorConfig verifies a step's error policy references a known
// strategy and an in-range jump target.
func checkErrorConfig(i, stepCount int, step flow.Step, addErr errFunc) {
	cfg := step.OnError
	if cfg == nil || cfg.Strategy == "" {
		return
	}
	strategy, ok := recovery.ParseStrategy(cfg.Strategy)
	if !ok {
		addErr(i, "unknown error strategy %q", cfg.Strategy)
		return
	}
	switch strategy {
	case recovery.StrategyJump:
		if cfg.JumpToStep == nil {
			addErr(i, "jump strategy requires a target step")
		} else if *cfg.JumpToStep < 0 || *cfg.JumpToStep >= stepCount {
			addErr(i, "jump target %d is out of range", *cfg.JumpToStep)
		}
	case recovery.StrategyCustom:
		if len(cfg.CustomSteps) == 0 {
			addErr(i, "custom strategy requires recovery steps")
		}
	case recovery.StrategyRetry:
		if cfg.MaxRetries < 0 {
			addErr(i, "max retries must not be negative")
		}
	}
}
