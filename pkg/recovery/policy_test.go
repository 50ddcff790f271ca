package recovery

import (
	"strings"
	"testing"
	"time"

	"github.com/browsergrid/flowkit/pkg/core"
	"github.com/browsergrid/flowkit/pkg/flow"
)

func clickStep(onError *flow.ErrorConfig) flow.Step {
	step := flow.NewStep(flow.ActionClick, map[string]interface{}{"locator_value": "#x"})
	step.OnError = onError
	return step
}

func TestStrategy_String(t *testing.T) {
	tests := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyStop, "stop"},
		{StrategyContinue, "continue"},
		{StrategyRetry, "retry"},
		{StrategyJump, "jump"},
		{StrategyCustom, "custom"},
		{Strategy(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.strategy.String(); got != tt.want {
			t.Errorf("Strategy(%d).String() = %q, want %q", tt.strategy, got, tt.want)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	if s, ok := ParseStrategy(" Retry "); !ok || s != StrategyRetry {
		t.Errorf("ParseStrategy(Retry) = %v, %v", s, ok)
	}
	if _, ok := ParseStrategy("teleport"); ok {
		t.Error("ParseStrategy(teleport) should not be known")
	}
}

func TestResolve_DefaultIsStop(t *testing.T) {
	r := NewResolver()

	res := r.Resolve(core.ErrActionFailed, clickStep(nil), 0, 0, 3)
	if res.Strategy != StrategyStop {
		t.Errorf("Strategy = %s, want stop", res.Strategy)
	}
	if res.Reason != "no error handler configured" {
		t.Errorf("Reason = %q", res.Reason)
	}
}

func TestResolve_UnknownStrategyStops(t *testing.T) {
	r := NewResolver()
	step := clickStep(&flow.ErrorConfig{Strategy: "teleport"})

	res := r.Resolve(core.ErrActionFailed, step, 0, 0, 3)
	if res.Strategy != StrategyStop || !strings.Contains(res.Reason, "unknown strategy") {
		t.Errorf("got %s (%s)", res.Strategy, res.Reason)
	}
}

func TestResolve_Continue(t *testing.T) {
	r := NewResolver()
	step := clickStep(&flow.ErrorConfig{Strategy: "continue"})

	res := r.Resolve(core.ErrActionFailed, step, 0, 0, 3)
	if res.Strategy != StrategyContinue {
		t.Errorf("Strategy = %s, want continue", res.Strategy)
	}
}

func TestResolve_RetryUntilCeiling(t *testing.T) {
	r := NewResolver()
	step := clickStep(&flow.ErrorConfig{Strategy: "retry", MaxRetries: 2, RetryDelay: 0.5})

	for retryCount := 0; retryCount < 2; retryCount++ {
		res := r.Resolve(core.ErrActionFailed, step, 4, retryCount, 3)
		if res.Strategy != StrategyRetry {
			t.Fatalf("attempt %d: Strategy = %s, want retry", retryCount, res.Strategy)
		}
		if res.RetryDelay != 500*time.Millisecond {
			t.Errorf("RetryDelay = %v, want 500ms", res.RetryDelay)
		}
	}

	// Ceiling reached: the resolution downgrades to stop.
	res := r.Resolve(core.ErrActionFailed, step, 4, 2, 3)
	if res.Strategy != StrategyStop || !strings.Contains(res.Reason, "retry ceiling 2 reached") {
		t.Errorf("got %s (%s)", res.Strategy, res.Reason)
	}
}

func TestResolve_RetryUsesEngineCeiling(t *testing.T) {
	r := NewResolver()
	step := clickStep(&flow.ErrorConfig{Strategy: "retry"}) // no per-step ceiling

	if res := r.Resolve(core.ErrActionFailed, step, 0, 2, 3); res.Strategy != StrategyRetry {
		t.Errorf("below engine ceiling: %s", res.Strategy)
	}
	if res := r.Resolve(core.ErrActionFailed, step, 0, 3, 3); res.Strategy != StrategyStop {
		t.Errorf("at engine ceiling: %s", res.Strategy)
	}
}

func TestResolve_RetryUsesDefaultDelay(t *testing.T) {
	r := NewResolver()
	r.DefaultRetryDelay = 250 * time.Millisecond

	// No per-step delay falls back to the resolver default.
	step := clickStep(&flow.ErrorConfig{Strategy: "retry", MaxRetries: 2})
	if res := r.Resolve(core.ErrActionFailed, step, 0, 0, 3); res.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", res.RetryDelay)
	}

	// A per-step delay wins over the default.
	step = clickStep(&flow.ErrorConfig{Strategy: "retry", MaxRetries: 2, RetryDelay: 0.5})
	if res := r.Resolve(core.ErrActionFailed, step, 0, 0, 3); res.RetryDelay != 500*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 500ms", res.RetryDelay)
	}
}

func TestSetLogCapacity(t *testing.T) {
	r := NewResolver()
	step := clickStep(nil)
	for i := 0; i < 5; i++ {
		r.Record(core.ErrActionFailed, step, i)
	}

	r.SetLogCapacity(2)
	logs := r.Logs(0)
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries after trim, got %d", len(logs))
	}
	if logs[0].StepIndex != 3 || logs[1].StepIndex != 4 {
		t.Errorf("kept entries %d and %d, want the newest two", logs[0].StepIndex, logs[1].StepIndex)
	}

	r.Record(core.ErrActionFailed, step, 9)
	if logs := r.Logs(0); len(logs) != 2 || logs[1].StepIndex != 9 {
		t.Errorf("log after capped append = %+v", logs)
	}
}

func TestResolve_Jump(t *testing.T) {
	r := NewResolver()
	target := 9
	step := clickStep(&flow.ErrorConfig{Strategy: "jump", JumpToStep: &target})

	res := r.Resolve(core.ErrActionFailed, step, 0, 0, 3)
	if res.Strategy != StrategyJump || res.JumpTo != 9 {
		t.Errorf("got %s to %d", res.Strategy, res.JumpTo)
	}

	// No target downgrades to stop.
	res = r.Resolve(core.ErrActionFailed, clickStep(&flow.ErrorConfig{Strategy: "jump"}), 0, 0, 3)
	if res.Strategy != StrategyStop {
		t.Errorf("missing target: got %s", res.Strategy)
	}
}

func TestResolve_Custom(t *testing.T) {
	r := NewResolver()
	recoverySteps := []flow.Step{
		flow.NewStep(flow.ActionTakeScreenshot, map[string]interface{}{"file_path": "fail.png"}),
	}
	step := clickStep(&flow.ErrorConfig{Strategy: "custom", CustomSteps: recoverySteps})

	res := r.Resolve(core.ErrActionFailed, step, 0, 0, 3)
	if res.Strategy != StrategyCustom || len(res.CustomSteps) != 1 {
		t.Errorf("got %s with %d steps", res.Strategy, len(res.CustomSteps))
	}

	// Empty sequence downgrades to stop.
	res = r.Resolve(core.ErrActionFailed, clickStep(&flow.ErrorConfig{Strategy: "custom"}), 0, 0, 3)
	if res.Strategy != StrategyStop {
		t.Errorf("empty custom: got %s", res.Strategy)
	}
}

func TestErrorLog(t *testing.T) {
	r := NewResolver()
	step := clickStep(nil)

	r.Resolve(core.ErrActionFailed, step, 2, 0, 3)
	r.Record(core.ErrExecutorDisconnected, step, 5)

	logs := r.Logs(0)
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(logs))
	}
	if logs[0].ErrorType != "action_failed" || logs[0].StepIndex != 2 {
		t.Errorf("entry 0 = %+v", logs[0])
	}
	if logs[1].ErrorType != "executor_disconnected" || logs[1].StepIndex != 5 {
		t.Errorf("entry 1 = %+v", logs[1])
	}

	if got := r.Logs(1); len(got) != 1 || got[0].ErrorType != "executor_disconnected" {
		t.Errorf("Logs(1) = %+v", got)
	}

	stats := r.Stats()
	if stats["action_failed"] != 1 || stats["executor_disconnected"] != 1 {
		t.Errorf("Stats() = %v", stats)
	}

	r.Clear()
	if len(r.Logs(0)) != 0 || len(r.Stats()) != 0 {
		t.Error("Clear() left entries behind")
	}
}

func TestErrorLog_Cap(t *testing.T) {
	r := NewResolver()
	r.maxLogs = 10
	step := clickStep(nil)

	for i := 0; i < 25; i++ {
		r.Record(core.ErrActionFailed, step, i)
	}

	logs := r.Logs(0)
	if len(logs) != 10 {
		t.Fatalf("expected capped log of 10, got %d", len(logs))
	}
	if logs[0].StepIndex != 15 || logs[9].StepIndex != 24 {
		t.Errorf("kept wrong window: first=%d last=%d", logs[0].StepIndex, logs[9].StepIndex)
	}
	if r.Stats()["action_failed"] != 25 {
		t.Errorf("counts should survive trimming, got %d", r.Stats()["action_failed"])
	}
}
