// Package recovery decides what the engine does after a step fails: keep
// going, retry, stop, jump, or run a custom recovery sequence. It also keeps
// a bounded log of everything that went wrong during a run.
package recovery

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/browsergrid/flowkit/pkg/core"
	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/logger"
)

// Strategy is a recovery strategy for a failed step.
type Strategy int

const (
	StrategyStop     Strategy = iota // Abort the flow (default)
	StrategyContinue                 // Record the failure, keep going
	StrategyRetry                    // Re-run the step up to a retry ceiling
	StrategyJump                     // Move the pointer to a configured step
	StrategyCustom                   // Run a configured recovery sequence
)

// String returns the string representation of Strategy
func (s Strategy) String() string {
	switch s {
	case StrategyStop:
		return "stop"
	case StrategyContinue:
		return "continue"
	case StrategyRetry:
		return "retry"
	case StrategyJump:
		return "jump"
	case StrategyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a config string onto a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stop":
		return StrategyStop, true
	case "continue":
		return StrategyContinue, true
	case "retry":
		return StrategyRetry, true
	case "jump":
		return StrategyJump, true
	case "custom":
		return StrategyCustom, true
	default:
		return StrategyStop, false
	}
}

// Resolution is the resolver's decision for one failure.
type Resolution struct {
	Strategy    Strategy
	RetryDelay  time.Duration // only for retry
	JumpTo      int           // only for jump
	CustomSteps []flow.Step   // only for custom
	Reason      string
}

// LogEntry records one failure.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	ErrorType string                 `json:"error_type"`
	Message   string                 `json:"message"`
	ActionID  string                 `json:"action_id"`
	StepIndex int                    `json:"step_index"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// DefaultMaxLogs caps the error log so a looping flow cannot grow it forever.
const DefaultMaxLogs = 1000

// Resolver applies per-step error policies and records failures.
type Resolver struct {
	// DefaultRetryDelay is the wait between retries when a step's error
	// config does not set one. Set before a run starts.
	DefaultRetryDelay time.Duration

	mu      sync.Mutex
	log     []LogEntry
	counts  map[string]int
	maxLogs int
}

// NewResolver returns a resolver with the default log cap.
func NewResolver() *Resolver {
	return &Resolver{
		counts:  map[string]int{},
		maxLogs: DefaultMaxLogs,
	}
}

// SetLogCapacity resizes the error log cap, trimming oldest entries when the
// current log is already over it. Non-positive values are ignored.
func (r *Resolver) SetLogCapacity(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxLogs = n
	if len(r.log) > r.maxLogs {
		r.log = r.log[len(r.log)-r.maxLogs:]
	}
}

// Record appends a failure to the error log without resolving a strategy.
// Used for failures that are swallowed by a surrounding TRY block.
func (r *Resolver) Record(err error, step flow.Step, stepIndex int) {
	r.record(err, step, stepIndex)
}

func (r *Resolver) record(err error, step flow.Step, stepIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := LogEntry{
		Timestamp: time.Now(),
		ErrorType: core.ErrorCode(err),
		Message:   err.Error(),
		ActionID:  string(step.ActionID),
		StepIndex: stepIndex,
		Params:    step.Params,
	}
	r.log = append(r.log, entry)
	if len(r.log) > r.maxLogs {
		r.log = r.log[len(r.log)-r.maxLogs:]
	}
	r.counts[entry.ErrorType]++
}

// Resolve records the failure and decides how the engine should proceed.
// retryCount is how many times this step has already been retried;
// maxRetries is the engine-wide ceiling used when the step config has none.
func (r *Resolver) Resolve(err error, step flow.Step, stepIndex, retryCount, maxRetries int) Resolution {
	r.record(err, step, stepIndex)

	cfg := step.OnError
	if cfg == nil || cfg.Strategy == "" {
		return Resolution{Strategy: StrategyStop, Reason: "no error handler configured"}
	}
	strategy, known := ParseStrategy(cfg.Strategy)
	if !known {
		logger.Warn("step %d: unknown error strategy %q, stopping", stepIndex, cfg.Strategy)
		return Resolution{Strategy: StrategyStop, Reason: fmt.Sprintf("unknown strategy %q", cfg.Strategy)}
	}

	switch strategy {
	case StrategyContinue:
		return Resolution{Strategy: StrategyContinue, Reason: "continuing past failure"}

	case StrategyRetry:
		ceiling := cfg.MaxRetries
		if ceiling <= 0 {
			ceiling = maxRetries
		}
		if retryCount >= ceiling {
			logger.Warn("step %d: retry ceiling %d reached, stopping", stepIndex, ceiling)
			return Resolution{
				Strategy: StrategyStop,
				Reason:   fmt.Sprintf("retry ceiling %d reached", ceiling),
			}
		}
		delay := time.Duration(cfg.RetryDelay * float64(time.Second))
		if delay <= 0 {
			delay = r.DefaultRetryDelay
		}
		return Resolution{
			Strategy:   StrategyRetry,
			RetryDelay: delay,
			Reason:     fmt.Sprintf("retry %d of %d", retryCount+1, ceiling),
		}

	case StrategyJump:
		if cfg.JumpToStep == nil {
			logger.Warn("step %d: jump strategy has no target, stopping", stepIndex)
			return Resolution{Strategy: StrategyStop, Reason: "jump strategy has no target"}
		}
		return Resolution{
			Strategy: StrategyJump,
			JumpTo:   *cfg.JumpToStep,
			Reason:   fmt.Sprintf("jumping to step %d", *cfg.JumpToStep),
		}

	case StrategyCustom:
		if len(cfg.CustomSteps) == 0 {
			logger.Warn("step %d: custom strategy has no steps, stopping", stepIndex)
			return Resolution{Strategy: StrategyStop, Reason: "custom strategy has no steps"}
		}
		return Resolution{
			Strategy:    StrategyCustom,
			CustomSteps: cfg.CustomSteps,
			Reason:      fmt.Sprintf("running %d recovery steps", len(cfg.CustomSteps)),
		}

	default:
		return Resolution{Strategy: StrategyStop, Reason: "stopping on failure"}
	}
}

// Logs returns the most recent failures, newest last. limit <= 0 returns all.
func (r *Resolver) Logs(limit int) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.log) {
		limit = len(r.log)
	}
	out := make([]LogEntry, limit)
	copy(out, r.log[len(r.log)-limit:])
	return out
}

// Stats returns the failure counts per error type.
func (r *Resolver) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Clear drops the failure log and counts.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
	r.counts = map[string]int{}
}
