// Package engine implements the flow execution engine: a small stack-based
// interpreter over a flat step list that supports if/else, counted and
// collection loops, try/catch/finally, per-step error recovery, and
// cooperative debugging.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/browsergrid/flowkit/pkg/condition"
	"github.com/browsergrid/flowkit/pkg/core"
	"github.com/browsergrid/flowkit/pkg/debug"
	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/recovery"
	"github.com/browsergrid/flowkit/pkg/variable"
)

// Callbacks are the engine's execution observer hooks. All callbacks fire on
// the execution worker.
type Callbacks struct {
	OnStepStart    func(index int, step flow.Step)
	OnStepComplete func(index int, success bool, message string)
	OnFlowComplete func(success bool)
}

// Config configures a new engine.
type Config struct {
	Name       string
	Executor   core.Executor
	MaxRetries int           // retry ceiling when a step config has none (default 3)
	RetryDelay time.Duration // wait between retries when a step config has none
	Browser    string        // session backend when the flow does not open one (default chromium)
	Headless   bool          // headless flag passed to the executor on launch

	FindTimeout      float64       // default element wait for conditions, seconds
	ErrorLogCapacity int           // bounded error log size
	DebugLogCapacity int           // debug session log size
	SampleInterval   time.Duration // performance sampling period

	Variables map[string]interface{} // seeded into the global scope
	Callbacks Callbacks
}

// DefaultMaxRetries is the engine-wide retry ceiling.
const DefaultMaxRetries = 3

// Engine owns one flow and executes it. A single engine runs at most one
// flow at a time; concurrent Execute calls are rejected.
type Engine struct {
	mu        sync.Mutex
	name      string
	steps     []flow.Step
	executor  core.Executor
	probe     core.ElementProbe
	vars      *variable.Store
	conds     *condition.Evaluator
	recovery  *recovery.Resolver
	debug     *debug.Controller
	callbacks Callbacks

	maxRetries  int
	browser     string
	headless    bool
	executing   bool
	initialized bool
	currentStep int

	stopRequested atomic.Bool

	pendingDeleteFlow bool
	pendingClearVars  bool
}

// New creates an engine. The executor may be nil for flows that contain only
// engine-handled steps; its element probe is picked up automatically when the
// executor implements one.
func New(cfg Config) *Engine {
	vars := variable.NewStore()
	for name, value := range cfg.Variables {
		// Seeding errors surface on first use of the variable instead.
		_ = vars.Create(name, value, "", variable.ScopeGlobal, "configured")
	}
	var probe core.ElementProbe
	if p, ok := cfg.Executor.(core.ElementProbe); ok {
		probe = p
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	browser := cfg.Browser
	if browser == "" {
		browser = "chromium"
	}

	conds := condition.New(vars, probe)
	conds.SetDefaultTimeout(cfg.FindTimeout)
	resolver := recovery.NewResolver()
	resolver.DefaultRetryDelay = cfg.RetryDelay
	resolver.SetLogCapacity(cfg.ErrorLogCapacity)
	ctrl := debug.NewController(vars)
	ctrl.SetLogCapacity(cfg.DebugLogCapacity)
	if cfg.SampleInterval > 0 {
		ctrl.SetSampleInterval(cfg.SampleInterval)
	}

	return &Engine{
		name:        cfg.Name,
		executor:    cfg.Executor,
		probe:       probe,
		vars:        vars,
		conds:       conds,
		recovery:    resolver,
		debug:       ctrl,
		callbacks:   cfg.Callbacks,
		maxRetries:  maxRetries,
		browser:     browser,
		headless:    cfg.Headless,
		currentStep: -1,
	}
}

// SetCallbacks replaces the observer hooks. Not safe during a run.
func (e *Engine) SetCallbacks(cb Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = cb
}

// Name returns the flow name.
func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// SetName renames the flow.
func (e *Engine) SetName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.name = name
}

// Variables returns the engine's variable store.
func (e *Engine) Variables() *variable.Store { return e.vars }

// Conditions returns the engine's condition evaluator.
func (e *Engine) Conditions() *condition.Evaluator { return e.conds }

// Recovery returns the engine's error policy resolver.
func (e *Engine) Recovery() *recovery.Resolver { return e.recovery }

// Debug returns the engine's debug controller.
func (e *Engine) Debug() *debug.Controller { return e.debug }

// IsExecuting reports whether a run is in progress.
func (e *Engine) IsExecuting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executing
}

// CurrentStep returns the index of the step being executed, or -1.
func (e *Engine) CurrentStep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStep
}

// Step management

// errExecuting guards flow mutation during a run.
func (e *Engine) errExecuting() error {
	if e.executing {
		return core.NewExecutionError(core.ErrCategoryConfig, "flow_executing",
			"cannot modify steps while the flow is executing")
	}
	return nil
}

// LoadFlow replaces the engine's flow with f.
func (e *Engine) LoadFlow(f *flow.Flow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errExecuting(); err != nil {
		return err
	}
	e.name = f.Name
	e.steps = make([]flow.Step, len(f.Steps))
	copy(e.steps, f.Steps)
	return nil
}

// AddStep inserts a step at index; index -1 or past the end appends. The
// insertion index is returned. Existing breakpoints are positional and are
// deliberately not renumbered.
func (e *Engine) AddStep(step flow.Step, index int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errExecuting(); err != nil {
		return -1, err
	}
	if step.Params == nil {
		step.Params = map[string]interface{}{}
	}
	if index < 0 || index > len(e.steps) {
		index = len(e.steps)
	}
	e.steps = append(e.steps, flow.Step{})
	copy(e.steps[index+1:], e.steps[index:])
	e.steps[index] = step
	return index, nil
}

// RemoveStep deletes the step at index.
func (e *Engine) RemoveStep(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errExecuting(); err != nil {
		return err
	}
	if index < 0 || index >= len(e.steps) {
		return core.ErrInvalidJumpTarget.WithMessage(fmt.Sprintf("no step at index %d", index))
	}
	e.steps = append(e.steps[:index], e.steps[index+1:]...)
	return nil
}

// MoveStep moves the step at from to position to.
func (e *Engine) MoveStep(from, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errExecuting(); err != nil {
		return err
	}
	if from < 0 || from >= len(e.steps) || to < 0 || to >= len(e.steps) {
		return core.ErrInvalidJumpTarget.WithMessage(fmt.Sprintf("cannot move step %d to %d", from, to))
	}
	step := e.steps[from]
	e.steps = append(e.steps[:from], e.steps[from+1:]...)
	e.steps = append(e.steps[:to], append([]flow.Step{step}, e.steps[to:]...)...)
	return nil
}

// SetStepEnabled toggles a step without removing it.
func (e *Engine) SetStepEnabled(index int, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.steps) {
		return core.ErrInvalidJumpTarget.WithMessage(fmt.Sprintf("no step at index %d", index))
	}
	e.steps[index].Enabled = enabled
	return nil
}

// Step returns a copy of the step at index.
func (e *Engine) Step(index int) (flow.Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.steps) {
		return flow.Step{}, core.ErrInvalidJumpTarget.WithMessage(fmt.Sprintf("no step at index %d", index))
	}
	return e.steps[index], nil
}

// Steps returns a copy of the step list.
func (e *Engine) Steps() []flow.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]flow.Step, len(e.steps))
	copy(out, e.steps)
	return out
}

// Len returns the number of steps.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.steps)
}

// DeleteFlow removes every step, optionally clearing all variables. During a
// run the deletion is deferred until the run completes.
func (e *Engine) DeleteFlow(clearVariables bool) {
	e.mu.Lock()
	if e.executing {
		e.pendingDeleteFlow = true
		e.pendingClearVars = clearVariables
		e.mu.Unlock()
		return
	}
	e.steps = nil
	e.mu.Unlock()
	if clearVariables {
		e.vars.ClearAll()
	}
}

// Stop requests a cooperative stop: the run ends at the next step boundary
// and reports failure. The executor and a paused debugger are both unblocked.
func (e *Engine) Stop() {
	e.stopRequested.Store(true)
	if e.executor != nil {
		e.executor.RequestStop()
	}
	if e.debug != nil {
		e.debug.StopDebugging()
	}
}

// Start launches Execute on its own goroutine. It fails fast when a run is
// already in progress.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.executing {
		e.mu.Unlock()
		return core.NewExecutionError(core.ErrCategoryConfig, "already_executing",
			"a flow is already executing")
	}
	e.mu.Unlock()
	go e.Execute(ctx)
	return nil
}

// Close releases the executor session.
func (e *Engine) Close() {
	e.mu.Lock()
	initialized := e.initialized
	e.initialized = false
	e.mu.Unlock()
	if initialized && e.executor != nil {
		e.executor.Close()
	}
}
