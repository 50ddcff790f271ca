package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/browsergrid/flowkit/pkg/flow"
)

func TestBuilderLifecycle(t *testing.T) {
	b := NewBuilder("checkout")

	b.StepStarted(0, flow.NewStep(flow.ActionNavigate, map[string]interface{}{
		"description": "open the cart",
	}))
	b.StepCompleted(0, true, "navigated")
	b.StepStarted(1, flow.NewStep(flow.ActionClick, nil))
	b.StepCompleted(1, false, "element not found")
	b.FlowCompleted(false)

	r := b.Build()
	if r.Version != Version {
		t.Errorf("Version = %q, want %q", r.Version, Version)
	}
	if r.FlowName != "checkout" {
		t.Errorf("FlowName = %q, want checkout", r.FlowName)
	}
	if r.Success {
		t.Error("Success = true, want false")
	}
	if len(r.Steps) != 2 {
		t.Fatalf("got %d step records, want 2", len(r.Steps))
	}

	first := r.Steps[0]
	if first.Status != StatusPassed || first.ActionID != "PAGE_GET" || first.Label != "open the cart" {
		t.Errorf("first record = %+v", first)
	}
	second := r.Steps[1]
	if second.Status != StatusFailed || second.Message != "element not found" {
		t.Errorf("second record = %+v", second)
	}

	want := Summary{Total: 2, Passed: 1, Failed: 1}
	if r.Summary != want {
		t.Errorf("Summary = %+v, want %+v", r.Summary, want)
	}
	if r.EndTime.Before(r.StartTime) {
		t.Error("EndTime precedes StartTime")
	}
}

func TestBuilderCompletionWithoutStart(t *testing.T) {
	// Skipped and control-flow steps report completion without a start.
	b := NewBuilder("test")
	b.StepCompleted(3, true, "step disabled, skipped")
	b.FlowCompleted(true)

	r := b.Build()
	if len(r.Steps) != 1 {
		t.Fatalf("got %d step records, want 1", len(r.Steps))
	}
	if r.Steps[0].Index != 3 || r.Steps[0].Status != StatusPassed {
		t.Errorf("record = %+v", r.Steps[0])
	}
}

func TestBuilderLoopIterations(t *testing.T) {
	// A step inside a loop produces one record per iteration.
	b := NewBuilder("test")
	step := flow.NewStep(flow.ActionNavigate, nil)
	for i := 0; i < 3; i++ {
		b.StepStarted(1, step)
		b.StepCompleted(1, true, "ok")
	}
	r := b.Build()
	if len(r.Steps) != 3 {
		t.Fatalf("got %d step records, want 3", len(r.Steps))
	}
	if r.Summary.Passed != 3 {
		t.Errorf("Passed = %d, want 3", r.Summary.Passed)
	}
}

func TestBuildBeforeCompletion(t *testing.T) {
	b := NewBuilder("test")
	b.StepStarted(0, flow.NewStep(flow.ActionNavigate, nil))

	r := b.Build()
	if len(r.Steps) != 1 {
		t.Fatalf("got %d step records, want 1", len(r.Steps))
	}
	if r.Steps[0].Status != StatusRunning {
		t.Errorf("status = %q, want %q", r.Steps[0].Status, StatusRunning)
	}
	if r.Duration < 0 {
		t.Errorf("Duration = %d, want >= 0", r.Duration)
	}
}

func TestEmptyReport(t *testing.T) {
	r := NewBuilder("empty").Build()
	if r.Summary.Total != 0 || len(r.Steps) != 0 {
		t.Errorf("empty report = %+v", r)
	}
}

func TestWriteJSON(t *testing.T) {
	b := NewBuilder("test")
	b.StepStarted(0, flow.NewStep(flow.ActionNavigate, nil))
	b.StepCompleted(0, true, "ok")
	b.FlowCompleted(true)

	path := filepath.Join(t.TempDir(), "report.json")
	if err := b.Build().WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("written report is not valid JSON: %v", err)
	}
	if decoded.FlowName != "test" || decoded.Summary.Total != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteHTML(t *testing.T) {
	b := NewBuilder("nightly smoke")
	b.StepStarted(0, flow.NewStep(flow.ActionNavigate, map[string]interface{}{
		"description": "open the homepage",
	}))
	b.StepCompleted(0, true, "ok")
	b.StepStarted(1, flow.NewStep(flow.ActionClick, nil))
	b.StepCompleted(1, false, "element <b> not found")
	b.FlowCompleted(false)

	path := filepath.Join(t.TempDir(), "report.html")
	if err := b.Build().WriteHTML(path); err != nil {
		t.Fatalf("WriteHTML() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	for _, want := range []string{"nightly smoke", "open the homepage", "PAGE_GET", "failed"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML is missing %q", want)
		}
	}
	if strings.Contains(html, "element <b> not found") {
		t.Error("step messages must be HTML-escaped")
	}
}
