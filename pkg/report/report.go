// Package report records flow runs and renders them as JSON or HTML.
package report

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/browsergrid/flowkit/pkg/flow"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents a step's execution status.
type Status string

// Status values.
const (
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
)

// StepRecord is one executed step. A step inside a loop produces one record
// per iteration.
type StepRecord struct {
	Index     int       `json:"index"`
	ActionID  string    `json:"actionId"`
	Label     string    `json:"label,omitempty"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	StartTime time.Time `json:"startTime"`
	Duration  int64     `json:"duration"` // milliseconds
}

// Summary contains aggregated counts.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Report is the full record of one flow run.
type Report struct {
	Version   string       `json:"version"`
	FlowName  string       `json:"flowName"`
	Success   bool         `json:"success"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	Duration  int64        `json:"duration"` // milliseconds
	Summary   Summary      `json:"summary"`
	Steps     []StepRecord `json:"steps"`
}

// Builder accumulates step records during a run. Its methods are designed to
// hang off the engine's callbacks, so they are safe for concurrent use.
type Builder struct {
	mu       sync.Mutex
	flowName string
	start    time.Time
	started  bool
	steps    []StepRecord
	open     map[int]int // step index -> position of its running record
	done     bool
	success  bool
	end      time.Time
}

// NewBuilder creates a report builder for the named flow.
func NewBuilder(flowName string) *Builder {
	return &Builder{
		flowName: flowName,
		open:     map[int]int{},
	}
}

// StepStarted records the start of a step execution.
func (b *Builder) StepStarted(index int, step flow.Step) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		b.started = true
		b.start = time.Now()
	}
	b.steps = append(b.steps, StepRecord{
		Index:     index,
		ActionID:  string(step.ActionID),
		Label:     step.StringParam("description", ""),
		Status:    StatusRunning,
		StartTime: time.Now(),
	})
	b.open[index] = len(b.steps) - 1
}

// StepCompleted closes the running record for the step, or appends a
// standalone record when the step never reported a start (e.g. skipped
// control-flow bookkeeping).
func (b *Builder) StepCompleted(index int, success bool, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := StatusPassed
	if !success {
		status = StatusFailed
	}
	if pos, ok := b.open[index]; ok {
		rec := &b.steps[pos]
		rec.Status = status
		rec.Message = message
		rec.Duration = time.Since(rec.StartTime).Milliseconds()
		delete(b.open, index)
		return
	}
	b.steps = append(b.steps, StepRecord{
		Index:     index,
		Status:    status,
		Message:   message,
		StartTime: time.Now(),
	})
}

// FlowCompleted marks the run finished.
func (b *Builder) FlowCompleted(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
	b.success = success
	b.end = time.Now()
}

// Build snapshots the accumulated records into a Report.
func (b *Builder) Build() *Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := b.end
	if !b.done {
		end = time.Now()
	}
	start := b.start
	if !b.started {
		start = end
	}

	r := &Report{
		Version:   Version,
		FlowName:  b.flowName,
		Success:   b.success,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start).Milliseconds(),
		Steps:     make([]StepRecord, len(b.steps)),
	}
	copy(r.Steps, b.steps)
	for _, rec := range r.Steps {
		r.Summary.Total++
		switch rec.Status {
		case StatusPassed:
			r.Summary.Passed++
		case StatusFailed:
			r.Summary.Failed++
		}
	}
	return r
}

// WriteJSON writes the report to path as indented JSON.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
