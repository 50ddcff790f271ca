package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/browsergrid/flowkit/pkg/core"
	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/logger"
	"github.com/browsergrid/flowkit/pkg/recovery"
	"github.com/browsergrid/flowkit/pkg/variable"
)

// Execute runs the flow to completion on the calling goroutine and returns
// the overall success flag. The flag is false if any step ultimately failed,
// even when a recovery strategy kept the run going. A second Execute while a
// run is in progress is rejected.
func (e *Engine) Execute(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.executing {
		e.mu.Unlock()
		return false, core.NewExecutionError(core.ErrCategoryConfig, "already_executing",
			"a flow is already executing")
	}
	e.executing = true
	e.stopRequested.Store(false)
	e.pendingDeleteFlow = false
	e.pendingClearVars = false
	steps := make([]flow.Step, len(e.steps))
	copy(steps, e.steps)
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("flow %q starting with %d steps", e.name, len(steps))

	x := &exec{
		e:       e,
		ctx:     ctx,
		steps:   steps,
		success: true,
		retries: map[string]int{},
	}
	success := x.run()

	e.mu.Lock()
	e.executing = false
	e.currentStep = -1
	deletePending := e.pendingDeleteFlow
	clearPending := e.pendingClearVars
	e.pendingDeleteFlow = false
	e.pendingClearVars = false
	e.mu.Unlock()

	if deletePending {
		e.DeleteFlow(clearPending)
		logger.Info("flow %q deleted after run", e.name)
	}

	logger.Info("flow %q finished: success=%v", e.name, success)
	if e.debug != nil {
		e.debug.OnFlowComplete(success)
	}
	if e.callbacks.OnFlowComplete != nil {
		e.callbacks.OnFlowComplete(success)
	}
	return success, nil
}

// exec is the state of one run.
type exec struct {
	e     *Engine
	ctx   context.Context
	steps []flow.Step

	ptr     int
	stack   []*frame
	success bool
	retries map[string]int

	// reconnected guards the one-shot session replay after a lost connection.
	reconnected bool
}

func (x *exec) run() bool {
	if len(x.steps) == 0 {
		return x.success
	}
	if !x.ensureSession() {
		return false
	}

	for x.ptr >= 0 && x.ptr < len(x.steps) {
		if x.stopped() {
			logger.Info("flow %q stopped at step %d", x.e.name, x.ptr)
			x.success = false
			break
		}

		step := x.steps[x.ptr]
		x.e.mu.Lock()
		x.e.currentStep = x.ptr
		x.e.mu.Unlock()

		if !step.Enabled {
			x.complete(x.ptr, step, true, "step disabled, skipped")
			x.ptr++
			continue
		}

		params := substituteValue(x.e.vars, step.Params).(map[string]interface{})
		x.stepStart(x.ptr, step)

		// The debug gate may have held us; honor a stop issued meanwhile.
		if x.stopped() {
			logger.Info("flow %q stopped at step %d", x.e.name, x.ptr)
			x.success = false
			break
		}

		if !x.dispatch(step, params) {
			break
		}
	}
	return x.success
}

func (x *exec) dispatch(step flow.Step, params map[string]interface{}) bool {
	switch step.ActionID {
	case flow.ActionIf:
		return x.doIf(step, params)
	case flow.ActionElse:
		return x.doElse(step)
	case flow.ActionEndIf:
		return x.doEndIf(step)
	case flow.ActionForLoop:
		return x.doFor(step, params)
	case flow.ActionEndFor:
		return x.doEndFor(step)
	case flow.ActionForeach:
		return x.doForeach(step, params)
	case flow.ActionEndForeach:
		return x.doEndForeach(step)
	case flow.ActionTry:
		return x.doTry(step)
	case flow.ActionCatch:
		return x.doCatch(step)
	case flow.ActionFinally:
		return x.doFinally(step)
	case flow.ActionEndTry:
		return x.doEndTry(step)
	case flow.ActionSetVariable:
		return x.doSetVariable(step, params)
	case flow.ActionDeleteVariable:
		return x.doDeleteVariable(step, params)
	case flow.ActionClearVariables:
		return x.doClearVariables(step, params)
	case flow.ActionDeleteFlow:
		return x.doDeleteFlow(step, params)
	case flow.ActionWaitSeconds:
		return x.doWait(step, params)
	case flow.ActionLogMessage:
		return x.doLog(step, params)
	default:
		return x.doAction(step, params)
	}
}

// Callbacks and loop plumbing

func (x *exec) stepStart(index int, step flow.Step) {
	if x.e.debug != nil {
		x.e.debug.OnStepStart(index, step)
	}
	if x.e.callbacks.OnStepStart != nil {
		x.e.callbacks.OnStepStart(index, step)
	}
}

func (x *exec) complete(index int, step flow.Step, success bool, message string) {
	if x.e.debug != nil {
		x.e.debug.OnStepComplete(index, step, success, message)
	}
	if x.e.callbacks.OnStepComplete != nil {
		x.e.callbacks.OnStepComplete(index, success, message)
	}
}

func (x *exec) stopped() bool {
	if x.e.stopRequested.Load() {
		return true
	}
	if x.ctx.Err() != nil {
		return true
	}
	if x.e.executor != nil && x.e.executor.ShouldStop() {
		return true
	}
	if x.e.debug != nil && x.e.debug.StopRequested() {
		return true
	}
	return false
}

// structuralFailure reports a mismatched or malformed block and aborts. The
// failure is classified under sentinel's code and recorded in the error log;
// no recovery strategy applies to malformed flow topology.
func (x *exec) structuralFailure(step flow.Step, sentinel *core.ExecutionError, message string) bool {
	x.e.recovery.Record(sentinel.WithMessage(message), step, x.ptr)
	x.success = false
	x.complete(x.ptr, step, false, message)
	logger.Error("flow %q: %s (step %d)", x.e.name, message, x.ptr)
	return false
}

func (x *exec) top() *frame {
	if len(x.stack) == 0 {
		return nil
	}
	return x.stack[len(x.stack)-1]
}

func (x *exec) push(f *frame) { x.stack = append(x.stack, f) }

func (x *exec) pop() { x.stack = x.stack[:len(x.stack)-1] }

// openTryFrame returns the innermost try frame that can still accept an
// exception.
func (x *exec) openTryFrame() *frame {
	for i := len(x.stack) - 1; i >= 0; i-- {
		f := x.stack[i]
		if f.kind == frameTry && f.pending == nil && !f.caught {
			return f
		}
	}
	return nil
}

// Session management

// launchConfig derives the executor backend and its options. When the first
// step opens the browser its parameters double as the session config;
// otherwise the engine's configured browser and headless defaults apply.
func (x *exec) launchConfig() (string, map[string]interface{}) {
	kind := x.e.browser
	var cfg map[string]interface{}
	if len(x.steps) > 0 && x.steps[0].ActionID == flow.ActionOpenBrowser {
		cfg = substituteValue(x.e.vars, x.steps[0].Params).(map[string]interface{})
		if bt, ok := cfg["browser_type"].(string); ok && bt != "" {
			kind = bt
		}
	}
	if cfg == nil {
		cfg = map[string]interface{}{"headless": x.e.headless}
	} else if _, ok := cfg["headless"]; !ok {
		cfg["headless"] = x.e.headless
	}
	return kind, cfg
}

// ensureSession lazily initializes the executor and reinitializes it when
// the connection died between runs.
func (x *exec) ensureSession() bool {
	if x.e.executor == nil {
		// Flows without browser actions still run; doAction catches the rest.
		return true
	}
	x.e.mu.Lock()
	initialized := x.e.initialized
	x.e.mu.Unlock()

	first := x.steps[0]
	if !initialized {
		kind, cfg := x.launchConfig()
		if !x.e.executor.Initialize(kind, cfg) {
			x.success = false
			x.complete(0, first, false, "executor initialization failed")
			return false
		}
		x.e.mu.Lock()
		x.e.initialized = true
		x.e.mu.Unlock()
		return true
	}
	if !x.e.executor.CheckConnection() {
		logger.Warn("flow %q: session lost before run, reinitializing", x.e.name)
		x.e.executor.Close()
		kind, cfg := x.launchConfig()
		if !x.e.executor.Initialize(kind, cfg) {
			x.success = false
			x.complete(0, first, false, "executor reinitialization failed")
			return false
		}
	}
	return true
}

// Control flow: IF / ELSE / END_IF

func (x *exec) doIf(step flow.Step, params map[string]interface{}) bool {
	cond, err := flow.ConditionFromParams(params)
	if err != nil {
		return x.failStep(step, core.ErrMalformedCondition.WithCause(err))
	}
	result, msg := x.e.conds.Evaluate(cond)
	x.complete(x.ptr, step, true, "condition: "+msg)

	if result {
		x.push(&frame{kind: frameIf, openIndex: x.ptr, conditionResult: true})
		x.ptr++
		return true
	}
	elseIndex, endIndex := scanIf(x.steps, x.ptr)
	if endIndex == -1 {
		return x.structuralFailure(step, core.ErrMissingTerminator, "IF without matching END_IF_CONDITION")
	}
	x.push(&frame{kind: frameIf, openIndex: x.ptr, conditionResult: false})
	if elseIndex != -1 {
		x.ptr = elseIndex
	} else {
		x.ptr = endIndex
	}
	return true
}

func (x *exec) doElse(step flow.Step) bool {
	f := x.top()
	if f == nil || f.kind != frameIf {
		return x.structuralFailure(step, core.ErrMismatchedBlock, "ELSE without matching IF")
	}
	if f.conditionResult {
		endIndex := findMatching(x.steps, x.ptr, flow.ActionIf, flow.ActionEndIf)
		if endIndex == -1 {
			return x.structuralFailure(step, core.ErrMissingTerminator, "ELSE without matching END_IF_CONDITION")
		}
		f.inElse = true
		x.complete(x.ptr, step, true, "ELSE branch skipped")
		x.ptr = endIndex
		return true
	}
	f.inElse = true
	x.complete(x.ptr, step, true, "entering ELSE branch")
	x.ptr++
	return true
}

func (x *exec) doEndIf(step flow.Step) bool {
	f := x.top()
	if f == nil || f.kind != frameIf {
		return x.structuralFailure(step, core.ErrMismatchedBlock, "END_IF without matching IF")
	}
	x.pop()
	x.complete(x.ptr, step, true, "IF block closed")
	x.ptr++
	return true
}

// Control flow: FOR / END_FOR

func (x *exec) doFor(step flow.Step, params map[string]interface{}) bool {
	loopVar := "i"
	if v, ok := params["loop_variable"].(string); ok && v != "" {
		loopVar = v
	}
	start, okS := paramFloat(params, "start_value", 0)
	end, okE := paramFloat(params, "end_value", 10)
	inc, okI := paramFloat(params, "step_value", 1)
	if !okS || !okE || !okI {
		return x.structuralFailure(step, core.ErrInvalidConfig, "loop bounds must be numeric")
	}
	if inc == 0 {
		return x.structuralFailure(step, core.ErrInvalidConfig, "loop step must be non-zero")
	}
	integral := isIntegral(start) && isIntegral(end) && isIntegral(inc)

	f := &frame{
		kind:      frameFor,
		openIndex: x.ptr,
		loopVar:   loopVar,
		current:   start,
		end:       end,
		step:      inc,
		integral:  integral,
	}
	x.bindLoopVar(f)
	x.push(f)
	x.complete(x.ptr, step, true,
		fmt.Sprintf("loop started: %s=%s to %s step %s",
			loopVar, formatNum(start, integral), formatNum(end, integral), formatNum(inc, integral)))
	x.ptr++
	return true
}

func (x *exec) doEndFor(step flow.Step) bool {
	f := x.top()
	if f == nil || f.kind != frameFor {
		return x.structuralFailure(step, core.ErrMismatchedBlock, "END_FOR_LOOP without matching FOR_LOOP")
	}
	f.current += f.step
	x.bindLoopVar(f)
	x.complete(x.ptr, step, true,
		fmt.Sprintf("loop iteration: %s=%s", f.loopVar, formatNum(f.current, f.integral)))
	if (f.step > 0 && f.current <= f.end) || (f.step < 0 && f.current >= f.end) {
		x.ptr = f.openIndex + 1
	} else {
		x.pop()
		x.ptr++
	}
	return true
}

func (x *exec) bindLoopVar(f *frame) {
	x.e.vars.Delete(f.loopVar, variable.ScopeLocal)
	typ := variable.TypeNumber
	value := interface{}(f.current)
	if f.integral {
		typ = variable.TypeInteger
		value = int(f.current)
	}
	_ = x.e.vars.Create(f.loopVar, value, typ, variable.ScopeLocal, "")
}

// Control flow: FOREACH / END_FOREACH

func (x *exec) doForeach(step flow.Step, params map[string]interface{}) bool {
	itemVar := "item"
	if v, ok := params["item_variable"].(string); ok && v != "" {
		itemVar = v
	}
	indexVar, _ := params["index_variable"].(string)
	collectionVar, _ := params["collection_variable"].(string)
	if collectionVar == "" {
		return x.structuralFailure(step, core.ErrMissingRequired, "FOREACH_LOOP has no collection_variable")
	}

	raw, ok := x.e.vars.Get(collectionVar)
	if !ok {
		return x.structuralFailure(step, core.ErrVariableNotFound, fmt.Sprintf("collection variable %q does not exist", collectionVar))
	}
	items, keys, iterable := snapshotCollection(raw)
	if !iterable {
		return x.structuralFailure(step, core.ErrNotIterable, fmt.Sprintf("variable %q is not an iterable collection", collectionVar))
	}

	if len(items) == 0 {
		endIndex := findMatching(x.steps, x.ptr, flow.ActionForeach, flow.ActionEndForeach)
		if endIndex == -1 {
			return x.structuralFailure(step, core.ErrMissingTerminator, "FOREACH_LOOP without matching END_FOREACH_LOOP")
		}
		x.complete(x.ptr, step, true, "empty collection, loop skipped")
		x.ptr = endIndex + 1
		return true
	}

	f := &frame{
		kind:      frameForeach,
		openIndex: x.ptr,
		itemVar:   itemVar,
		indexVar:  indexVar,
		items:     items,
		keys:      keys,
	}
	x.bindForeachVars(f)
	x.push(f)
	x.complete(x.ptr, step, true,
		fmt.Sprintf("iterating over %s (%d items)", collectionVar, len(items)))
	x.ptr++
	return true
}

func (x *exec) doEndForeach(step flow.Step) bool {
	f := x.top()
	if f == nil || f.kind != frameForeach {
		return x.structuralFailure(step, core.ErrMismatchedBlock, "END_FOREACH_LOOP without matching FOREACH_LOOP")
	}
	f.index++
	if f.index < len(f.items) {
		x.bindForeachVars(f)
		x.complete(x.ptr, step, true, fmt.Sprintf("loop iteration %d", f.index))
		x.ptr = f.openIndex + 1
		return true
	}
	x.pop()
	x.complete(x.ptr, step, true, "loop finished")
	x.ptr++
	return true
}

func (x *exec) bindForeachVars(f *frame) {
	x.e.vars.Delete(f.itemVar, variable.ScopeLocal)
	_ = x.e.vars.Create(f.itemVar, f.items[f.index], "", variable.ScopeLocal, "")
	if f.indexVar == "" {
		return
	}
	x.e.vars.Delete(f.indexVar, variable.ScopeLocal)
	if len(f.keys) > 0 {
		_ = x.e.vars.Create(f.indexVar, f.keys[f.index], variable.TypeString, variable.ScopeLocal, "")
	} else {
		_ = x.e.vars.Create(f.indexVar, f.index, variable.TypeInteger, variable.ScopeLocal, "")
	}
}

// snapshotCollection copies an iterable value into a stable item list. Maps
// iterate by sorted key so runs are deterministic; strings iterate by rune.
func snapshotCollection(raw interface{}) (items []interface{}, keys []string, ok bool) {
	switch v := raw.(type) {
	case []interface{}:
		items = make([]interface{}, len(v))
		copy(items, v)
		return items, nil, true
	case string:
		for _, r := range v {
			items = append(items, string(r))
		}
		return items, nil, true
	case map[string]interface{}:
		keys = make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, v[k])
		}
		return items, keys, true
	default:
		return nil, nil, false
	}
}

// Control flow: TRY / CATCH / FINALLY / END_TRY

func (x *exec) doTry(step flow.Step) bool {
	catchIndex, finallyIndex, endIndex := scanTry(x.steps, x.ptr)
	if endIndex == -1 {
		return x.structuralFailure(step, core.ErrMissingTerminator, "TRY_BLOCK without matching END_TRY_BLOCK")
	}
	x.push(&frame{
		kind:         frameTry,
		openIndex:    x.ptr,
		catchIndex:   catchIndex,
		finallyIndex: finallyIndex,
		endIndex:     endIndex,
	})
	x.complete(x.ptr, step, true, "entering TRY block")
	x.ptr++
	return true
}

func (x *exec) doCatch(step flow.Step) bool {
	f := x.top()
	if f == nil || f.kind != frameTry {
		return x.structuralFailure(step, core.ErrMismatchedBlock, "CATCH_BLOCK without matching TRY_BLOCK")
	}
	if f.pending == nil || f.caught {
		target := f.finallyIndex
		if target == -1 {
			target = f.endIndex
		}
		x.complete(x.ptr, step, true, "CATCH skipped, no exception")
		x.ptr = target
		return true
	}
	f.caught = true
	x.e.vars.Delete("error_type", variable.ScopeTemporary)
	x.e.vars.Delete("error_message", variable.ScopeTemporary)
	_ = x.e.vars.Create("error_type", core.ErrorCode(f.pending), variable.TypeString, variable.ScopeTemporary, "")
	_ = x.e.vars.Create("error_message", f.pending.Error(), variable.TypeString, variable.ScopeTemporary, "")
	x.complete(x.ptr, step, true, fmt.Sprintf("CATCH handling: %v", f.pending))
	x.ptr++
	return true
}

func (x *exec) doFinally(step flow.Step) bool {
	f := x.top()
	if f == nil || f.kind != frameTry {
		return x.structuralFailure(step, core.ErrMismatchedBlock, "FINALLY_BLOCK without matching TRY_BLOCK")
	}
	f.finallyDone = true
	x.complete(x.ptr, step, true, "entering FINALLY block")
	x.ptr++
	return true
}

func (x *exec) doEndTry(step flow.Step) bool {
	f := x.top()
	if f == nil || f.kind != frameTry {
		return x.structuralFailure(step, core.ErrMismatchedBlock, "END_TRY_BLOCK without matching TRY_BLOCK")
	}
	if f.finallyIndex != -1 && !f.finallyDone {
		// The body fell through to END_TRY without passing FINALLY (e.g.
		// CATCH was skipped and sits after it). Run the finally block, then
		// come back here.
		x.complete(x.ptr, step, true, "running FINALLY block")
		x.ptr = f.finallyIndex
		return true
	}
	x.pop()
	if f.pending != nil && !f.caught {
		// Nothing caught the exception inside this block; propagate it.
		if outer := x.openTryFrame(); outer != nil {
			outer.pending = f.pending
			x.complete(x.ptr, step, false, fmt.Sprintf("unhandled exception propagated: %v", f.pending))
			x.ptr++
			return true
		}
		return x.failStep(step, f.pending)
	}
	x.complete(x.ptr, step, true, "TRY block closed")
	x.ptr++
	return true
}

// Variable steps

func (x *exec) doSetVariable(step flow.Step, params map[string]interface{}) bool {
	name, _ := params["variable_name"].(string)
	value := params["variable_value"]
	typ, _ := params["variable_type"].(string)
	scope, _ := params["variable_scope"].(string)
	description, _ := params["variable_description"].(string)

	var err error
	if _, _, exists := x.e.vars.GetInfo(name); exists {
		err = x.e.vars.Set(name, value)
	} else {
		if scope == "" {
			scope = string(variable.ScopeGlobal)
		}
		err = x.e.vars.Create(name, value, variable.Type(typ), variable.Scope(scope), description)
	}
	if err != nil {
		x.success = false
		x.complete(x.ptr, step, false, fmt.Sprintf("could not set variable %q: %v", name, err))
	} else {
		x.complete(x.ptr, step, true, fmt.Sprintf("variable %q set", name))
	}
	x.ptr++
	return true
}

func (x *exec) doDeleteVariable(step flow.Step, params map[string]interface{}) bool {
	name, _ := params["variable_name"].(string)
	scope, _ := params["variable_scope"].(string)
	if x.e.vars.Delete(name, variable.Scope(scope)) {
		x.complete(x.ptr, step, true, fmt.Sprintf("variable %q deleted", name))
	} else {
		x.success = false
		x.complete(x.ptr, step, false, fmt.Sprintf("variable %q does not exist", name))
	}
	x.ptr++
	return true
}

func (x *exec) doClearVariables(step flow.Step, params map[string]interface{}) bool {
	scope, _ := params["variable_scope"].(string)
	if scope == "" {
		scope = string(variable.ScopeTemporary)
	}
	x.e.vars.ClearScope(variable.Scope(scope))
	x.complete(x.ptr, step, true, fmt.Sprintf("scope %q cleared", scope))
	x.ptr++
	return true
}

func (x *exec) doDeleteFlow(step flow.Step, params map[string]interface{}) bool {
	if paramBool(params, "confirm") {
		clear := paramBool(params, "clear_variables")
		x.e.mu.Lock()
		x.e.pendingDeleteFlow = true
		x.e.pendingClearVars = clear
		x.e.mu.Unlock()
		x.complete(x.ptr, step, true, "flow will be deleted after the run completes")
	} else {
		x.complete(x.ptr, step, true, "flow deletion cancelled")
	}
	x.ptr++
	return true
}

// Inline utility steps

func (x *exec) doWait(step flow.Step, params map[string]interface{}) bool {
	seconds, ok := paramFloat(params, "seconds", 1)
	if !ok || seconds < 0 {
		x.success = false
		x.complete(x.ptr, step, false, "wait duration must be a non-negative number")
		x.ptr++
		return true
	}
	x.sleep(time.Duration(seconds * float64(time.Second)))
	x.complete(x.ptr, step, true, fmt.Sprintf("waited %ss", formatNum(seconds, isIntegral(seconds))))
	x.ptr++
	return true
}

func (x *exec) doLog(step flow.Step, params map[string]interface{}) bool {
	message, _ := params["message"].(string)
	level, _ := params["level"].(string)
	switch strings.ToLower(level) {
	case "error":
		logger.Error("%s", message)
	case "warn":
		logger.Warn("%s", message)
	case "debug":
		logger.Debug("%s", message)
	default:
		logger.Info("%s", message)
	}
	x.complete(x.ptr, step, true, message)
	x.ptr++
	return true
}

// Ordinary actions

func (x *exec) doAction(step flow.Step, params map[string]interface{}) bool {
	if x.e.executor == nil {
		return x.failStep(step, core.ErrExecutorUnavailable)
	}
	res := x.e.executor.ExecuteAction(string(step.ActionID), params)
	if res == nil {
		res = core.Fail("executor returned no result")
	}
	if res.Err != nil {
		return x.handleRaised(step, res.Err)
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "action failed"
		}
		return x.failStep(step, core.ErrActionFailed.WithMessage(msg))
	}

	message := res.Message
	if res.Payload != nil && res.Payload.Variable != "" {
		if err := x.e.vars.Set(res.Payload.Variable, res.Payload.Value); err != nil {
			x.success = false
			x.complete(x.ptr, step, false,
				fmt.Sprintf("could not save result to variable %q: %v", res.Payload.Variable, err))
			x.ptr++
			return true
		}
		if message == "" {
			message = fmt.Sprintf("result saved to variable %q", res.Payload.Variable)
		}
	}
	if message == "" {
		message = "action completed"
	}
	x.complete(x.ptr, step, true, message)
	x.ptr++
	return true
}

// handleRaised routes a raised action error: a lost session gets one
// transparent reconnect-and-replay, an open TRY frame swallows the error,
// anything else goes to the error policy resolver.
func (x *exec) handleRaised(step flow.Step, err error) bool {
	if isConnectionLost(err) && !x.reconnected {
		x.complete(x.ptr, step, false, "browser connection lost, reinitializing")
		x.e.executor.Close()
		kind, cfg := x.launchConfig()
		if x.e.executor.Initialize(kind, cfg) {
			x.reconnected = true
			x.complete(x.ptr, step, true, "executor reinitialized, replaying step")
			return true // pointer unchanged: replay the failed step
		}
		x.success = false
		x.complete(x.ptr, step, false, "executor reinitialization failed, stopping")
		return false
	}

	if f := x.openTryFrame(); f != nil {
		f.pending = err
		x.success = false
		x.e.recovery.Record(err, step, x.ptr)
		x.complete(x.ptr, step, false, fmt.Sprintf("step error: %v", err))
		x.ptr++
		return true
	}
	return x.failStep(step, err)
}

// failStep resolves a failure through the error policy and applies the
// resulting strategy.
func (x *exec) failStep(step flow.Step, err error) bool {
	x.success = false
	key := fmt.Sprintf("%d_%s", x.ptr, step.ActionID)
	res := x.e.recovery.Resolve(err, step, x.ptr, x.retries[key], x.e.maxRetries)

	switch res.Strategy {
	case recovery.StrategyContinue:
		x.complete(x.ptr, step, false, fmt.Sprintf("step failed, continuing: %v", err))
		x.ptr++
		return true

	case recovery.StrategyRetry:
		x.retries[key]++
		x.complete(x.ptr, step, false, fmt.Sprintf("step failed, %s: %v", res.Reason, err))
		if res.RetryDelay > 0 {
			x.sleep(res.RetryDelay)
		}
		return true // pointer unchanged: re-attempt the same step

	case recovery.StrategyJump:
		if res.JumpTo < 0 || res.JumpTo >= len(x.steps) {
			x.complete(x.ptr, step, false,
				fmt.Sprintf("invalid jump target %d, stopping: %v", res.JumpTo, err))
			return false
		}
		x.complete(x.ptr, step, false,
			fmt.Sprintf("step failed, jumping to step %d: %v", res.JumpTo, err))
		x.ptr = res.JumpTo
		return true

	case recovery.StrategyCustom:
		x.complete(x.ptr, step, false,
			fmt.Sprintf("step failed, running %d recovery steps: %v", len(res.CustomSteps), err))
		x.runCustomSteps(res.CustomSteps)
		x.ptr++
		return true

	default:
		x.complete(x.ptr, step, false, fmt.Sprintf("step failed, stopping: %v", err))
		return false
	}
}

// runCustomSteps executes a recovery sequence inline. Recovery steps are
// plain actions; their failures are logged but never recurse into recovery.
func (x *exec) runCustomSteps(steps []flow.Step) {
	for i, step := range steps {
		if x.stopped() || x.e.executor == nil {
			return
		}
		params := substituteValue(x.e.vars, step.Params).(map[string]interface{})
		res := x.e.executor.ExecuteAction(string(step.ActionID), params)
		if res == nil || !res.Success {
			logger.Warn("recovery step %d (%s) failed", i, step.ActionID)
		}
	}
}

// sleep waits cooperatively, waking early on stop or context cancellation.
func (x *exec) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-x.ctx.Done():
			return
		case <-timer.C:
			return
		case <-ticker.C:
			if x.stopped() {
				return
			}
		}
	}
}

// Helpers

func isConnectionLost(err error) bool {
	var execErr *core.ExecutionError
	if errors.As(err, &execErr) && execErr.Category == core.ErrCategoryConnection {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection lost", "target closed", "page crashed", "session closed", "websocket closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func substituteValue(vars *variable.Store, v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if strings.Contains(t, "${") {
			return vars.Expand(t)
		}
		return t
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = substituteValue(vars, val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = substituteValue(vars, val)
		}
		return out
	default:
		return v
	}
}

func paramFloat(params map[string]interface{}, key string, def float64) (float64, bool) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, true
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		coerced, err := variable.Coerce(v, variable.TypeNumber)
		if err != nil {
			return 0, false
		}
		return coerced.(float64), true
	default:
		return 0, false
	}
}

func paramBool(params map[string]interface{}, key string) bool {
	raw, ok := params[key]
	if !ok {
		return false
	}
	coerced, err := variable.Coerce(raw, variable.TypeBoolean)
	if err != nil {
		return false
	}
	return coerced.(bool)
}

func isIntegral(v float64) bool {
	return v == math.Trunc(v)
}

func formatNum(v float64, integral bool) string {
	if integral {
		return fmt.Sprintf("%d", int(v))
	}
	return fmt.Sprintf("%g", v)
}
