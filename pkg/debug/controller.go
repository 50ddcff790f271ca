package debug

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"

	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/script"
	"github.com/browsergrid/flowkit/pkg/variable"
)

// Mode is the execution mode of the debugger.
type Mode string

// Mode constants.
const (
	ModeNormal Mode = "normal" // run without debug hooks
	ModeDebug  Mode = "debug"  // run, honoring breakpoints
	ModeStep   Mode = "step"   // pause before every step
)

// Callbacks are the observer hooks a UI or test harness can attach.
// All callbacks fire on the execution worker.
type Callbacks struct {
	OnBreakpointHit   func(id string, stepIndex int, context map[string]interface{})
	OnPaused          func(stepIndex int)
	OnResumed         func(stepIndex int)
	OnVariableChanged func(name string, value interface{})
}

// Controller owns debugging state for an engine: breakpoints, the continue
// gate the worker blocks on, watched variables, metrics and the session log.
type Controller struct {
	mu        sync.Mutex
	vars      *variable.Store
	callbacks Callbacks

	mode          Mode
	paused        bool
	stopRequested bool
	currentStep   int

	// gate is the continue gate: a closed channel means "go". Pausing swaps
	// in a fresh channel; resume/stop close it so every waiter unblocks.
	gate     chan struct{}
	gateOpen bool

	breakpoints map[string]*Breakpoint
	order       []string // insertion order, used for deterministic scans

	watch map[string]interface{} // watched variable name -> last seen value

	metrics *PerformanceMetrics

	logMu   sync.Mutex
	logCap  int
	records []LogRecord
}

// NewController returns a controller in normal mode with an open gate.
func NewController(vars *variable.Store) *Controller {
	gate := make(chan struct{})
	close(gate)
	return &Controller{
		vars:        vars,
		mode:        ModeNormal,
		gate:        gate,
		gateOpen:    true,
		currentStep: -1,
		breakpoints: map[string]*Breakpoint{},
		watch:       map[string]interface{}{},
		metrics:     NewPerformanceMetrics(),
		logCap:      DefaultLogCapacity,
	}
}

// SetSampleInterval adjusts the performance sampling period for future runs.
func (c *Controller) SetSampleInterval(d time.Duration) {
	c.metrics.SetSampleInterval(d)
}

// SetCallbacks attaches observer hooks. Call before starting a run.
func (c *Controller) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

// Mode returns the current execution mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the execution mode.
func (c *Controller) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.addLog("info", "execution mode set to %s", mode)
}

// StartDebugging enters the given mode and resets per-run debug state.
func (c *Controller) StartDebugging(mode Mode) {
	c.mu.Lock()
	c.mode = mode
	c.stopRequested = false
	c.paused = false
	c.openGateLocked()
	c.mu.Unlock()
	c.metrics.Start()
	c.addLog("info", "debug session started in %s mode", mode)
}

// StopDebugging leaves debug mode and opens the gate so a paused worker can
// observe the stop and wind down.
func (c *Controller) StopDebugging() {
	c.mu.Lock()
	c.stopRequested = true
	c.mode = ModeNormal
	c.paused = false
	c.openGateLocked()
	c.mu.Unlock()
	c.metrics.Stop()
	c.addLog("info", "debug session stopped")
}

// StopRequested reports whether StopDebugging was called since the last
// StartDebugging.
func (c *Controller) StopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// Pause shuts the continue gate; the worker blocks at the next step boundary
// (or immediately, if it is already waiting).
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = true
	c.shutGateLocked()
	step := c.currentStep
	cb := c.callbacks.OnPaused
	c.mu.Unlock()
	c.addLog("info", "execution paused at step %d", step)
	if cb != nil {
		cb(step)
	}
}

// Resume opens the continue gate.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = false
	c.openGateLocked()
	step := c.currentStep
	cb := c.callbacks.OnResumed
	c.mu.Unlock()
	c.addLog("info", "execution resumed at step %d", step)
	if cb != nil {
		cb(step)
	}
}

// IsPaused reports whether the gate is shut.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// WaitForContinue blocks until the gate is open.
func (c *Controller) WaitForContinue() {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	<-gate
}

func (c *Controller) openGateLocked() {
	if !c.gateOpen {
		close(c.gate)
		c.gateOpen = true
	}
}

func (c *Controller) shutGateLocked() {
	if c.gateOpen {
		c.gate = make(chan struct{})
		c.gateOpen = false
	}
}

// Breakpoint management

// AddBreakpoint registers bp and returns its ID.
func (c *Controller) AddBreakpoint(bp *Breakpoint) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakpoints[bp.ID] = bp
	c.order = append(c.order, bp.ID)
	c.addLog("info", "breakpoint %s added (%s at step %d)", bp.ID, bp.Type, bp.StepIndex)
	return bp.ID
}

// RemoveBreakpoint deletes the breakpoint with the given ID.
func (c *Controller) RemoveBreakpoint(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.breakpoints[id]; !ok {
		return false
	}
	delete(c.breakpoints, id)
	for i, other := range c.order {
		if other == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.addLog("info", "breakpoint %s removed", id)
	return true
}

// EnableBreakpoint toggles a breakpoint without removing it.
func (c *Controller) EnableBreakpoint(id string, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp, ok := c.breakpoints[id]
	if !ok {
		return false
	}
	bp.Enabled = enabled
	return true
}

// Breakpoints returns copies of all breakpoints in insertion order.
func (c *Controller) Breakpoints() []Breakpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Breakpoint, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.breakpoints[id])
	}
	return out
}

// ClearBreakpoints removes every breakpoint.
func (c *Controller) ClearBreakpoints() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakpoints = map[string]*Breakpoint{}
	c.order = nil
	c.addLog("info", "all breakpoints cleared")
}

// ToggleLineBreakpoint adds a line breakpoint at stepIndex, or removes the
// existing one. Returns the breakpoint ID and whether it is now set.
func (c *Controller) ToggleLineBreakpoint(stepIndex int) (string, bool) {
	c.mu.Lock()
	for _, id := range c.order {
		bp := c.breakpoints[id]
		if bp.Type == TypeLine && bp.StepIndex == stepIndex {
			c.mu.Unlock()
			c.RemoveBreakpoint(id)
			return id, false
		}
	}
	c.mu.Unlock()
	bp := NewLineBreakpoint(stepIndex)
	return c.AddBreakpoint(bp), true
}

// Variable watches

// AddWatch starts watching a variable; change detection and variable
// breakpoints only consider watched names.
func (c *Controller) AddWatch(name string) {
	current, _ := c.vars.Lookup(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watch[name] = current
	c.addLog("info", "watching variable %s", name)
}

// RemoveWatch stops watching a variable.
func (c *Controller) RemoveWatch(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watch, name)
}

// Watches returns the sorted watched names.
func (c *Controller) Watches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.watch))
	for name := range c.watch {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WatchValues returns the current value of every watched variable.
func (c *Controller) WatchValues() map[string]interface{} {
	out := map[string]interface{}{}
	for _, name := range c.Watches() {
		value, _ := c.vars.Lookup(name)
		out[name] = value
	}
	return out
}

// Metrics returns the performance report for the current or last run.
func (c *Controller) Metrics() Report {
	return c.metrics.Report()
}

// Engine hooks

// OnStepStart runs before a step executes: it pauses in step mode and scans
// line/condition breakpoints in debug mode. The first matching breakpoint
// wins; the rest are not evaluated.
func (c *Controller) OnStepStart(index int, step flow.Step) {
	c.mu.Lock()
	c.currentStep = index
	mode := c.mode
	c.mu.Unlock()
	c.metrics.StartStep(index)

	switch mode {
	case ModeStep:
		c.addLog("debug", "step mode pause before step %d (%s)", index, step.ActionID)
		c.Pause()
		c.WaitForContinue()

	case ModeDebug:
		for _, bp := range c.candidates(TypeLine, TypeCondition) {
			if bp.StepIndex != index {
				continue
			}
			if bp.Type == TypeCondition {
				hit, err := c.evalCondition(bp.Condition)
				if err != nil {
					c.addLog("warn", "breakpoint %s condition error: %v", bp.ID, err)
					continue
				}
				if !hit {
					continue
				}
			}
			c.fire(bp, index, step)
			break
		}
	}
}

// OnStepComplete runs after a step: it fires error breakpoints on failure
// and re-checks watched variables.
func (c *Controller) OnStepComplete(index int, step flow.Step, success bool, message string) {
	c.metrics.StopStep(index)
	if success {
		c.addLog("debug", "step %d (%s) passed: %s", index, step.ActionID, message)
	} else {
		c.addLog("warn", "step %d (%s) failed: %s", index, step.ActionID, message)
	}

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	if mode == ModeDebug && !success {
		for _, bp := range c.candidates(TypeError) {
			c.fire(bp, index, step)
			break
		}
	}
	c.checkWatchedVariables(mode, index, step)
}

// OnFlowComplete runs after a flow finishes; it closes the session, returns
// the mode to normal, and makes sure no one stays blocked on the gate.
func (c *Controller) OnFlowComplete(success bool) {
	c.metrics.Stop()
	c.mu.Lock()
	c.mode = ModeNormal
	c.paused = false
	c.stopRequested = false
	c.currentStep = -1
	c.openGateLocked()
	c.mu.Unlock()
	report := c.metrics.Report()
	c.addLog("info", "flow finished (success=%v) in %s over %d steps",
		success, report.TotalTime.Round(0), len(report.StepDurations))
}

// candidates returns enabled breakpoints of the given types in insertion
// order.
func (c *Controller) candidates(types ...Type) []*Breakpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Breakpoint
	for _, id := range c.order {
		bp := c.breakpoints[id]
		if !bp.Enabled {
			continue
		}
		for _, t := range types {
			if bp.Type == t {
				out = append(out, bp)
				break
			}
		}
	}
	return out
}

// fire marks a breakpoint hit, notifies the observer, pauses, and blocks
// until the gate reopens.
func (c *Controller) fire(bp *Breakpoint, index int, step flow.Step) {
	c.mu.Lock()
	bp.HitCount++
	cb := c.callbacks.OnBreakpointHit
	c.mu.Unlock()
	c.addLog("info", "breakpoint %s hit at step %d (%s)", bp.ID, index, step.ActionID)
	if cb != nil {
		context := map[string]interface{}{
			"step_index": index,
			"action_id":  string(step.ActionID),
			"variables":  c.vars.Snapshot(),
		}
		cb(bp.ID, index, context)
	}
	c.Pause()
	c.WaitForContinue()
}

// evalCondition evaluates a condition breakpoint expression over the visible
// variables. Only the snapshot is exposed, no functions.
func (c *Controller) evalCondition(condition string) (bool, error) {
	env := c.vars.Snapshot()
	program, err := expr.Compile(condition, expr.Env(env))
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	return script.Truthy(out), nil
}

// checkWatchedVariables detects changes to watched variables, fires variable
// breakpoints, and notifies the change observer. The change gate only applies
// to the observer; breakpoints compare against the current value every step.
func (c *Controller) checkWatchedVariables(mode Mode, index int, step flow.Step) {
	for _, name := range c.Watches() {
		current, _ := c.vars.Lookup(name)

		c.mu.Lock()
		last := c.watch[name]
		changed := !reflect.DeepEqual(current, last)
		if changed {
			c.watch[name] = current
		}
		cb := c.callbacks.OnVariableChanged
		c.mu.Unlock()

		if changed {
			c.addLog("debug", "watched variable %s changed: %v -> %v", name, last, current)
			if cb != nil {
				cb(name, current)
			}
		}

		if mode != ModeDebug {
			continue
		}
		for _, bp := range c.candidates(TypeVariable) {
			if bp.VariableName != name {
				continue
			}
			hit, err := compareWatch(current, bp.Operator, bp.CompareValue)
			if err != nil {
				c.addLog("warn", "breakpoint %s comparison error: %v", bp.ID, err)
				continue
			}
			if hit {
				c.fire(bp, index, step)
				break
			}
		}
	}
}

// compareWatch applies a variable breakpoint's comparison.
func compareWatch(value interface{}, operator string, target interface{}) (bool, error) {
	switch operator {
	case "==":
		return looseEqual(value, target), nil
	case "!=":
		return !looseEqual(value, target), nil
	case ">", "<", ">=", "<=":
		a, okA := watchFloat(value)
		b, okB := watchFloat(target)
		if !okA || !okB {
			return false, fmt.Errorf("cannot compare %v and %v numerically", value, target)
		}
		switch operator {
		case ">":
			return a > b, nil
		case "<":
			return a < b, nil
		case ">=":
			return a >= b, nil
		default:
			return a <= b, nil
		}
	case "in":
		return contains(target, value)
	case "not in":
		ok, err := contains(target, value)
		return !ok, err
	default:
		return false, fmt.Errorf("unknown comparison operator %q", operator)
	}
}

func looseEqual(a, b interface{}) bool {
	if fa, okA := watchFloat(a); okA {
		if fb, okB := watchFloat(b); okB {
			return fa == fb
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return variable.FormatValue(a) == variable.FormatValue(b)
}

func watchFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(container, item interface{}) (bool, error) {
	switch c := container.(type) {
	case string:
		return strings.Contains(c, variable.FormatValue(item)), nil
	case []interface{}:
		for _, member := range c {
			if looseEqual(member, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]interface{}:
		_, ok := c[variable.FormatValue(item)]
		return ok, nil
	default:
		return false, fmt.Errorf("%T does not support membership tests", container)
	}
}
