// Package sim provides a simulated executor for running flows without a
// real browser.
package sim

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/browsergrid/flowkit/pkg/core"
	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/logger"
)

// Element is the scripted state of a page element, keyed by its locator
// value.
type Element struct {
	Exists     bool
	Visible    bool
	Enabled    bool
	Text       string
	Attributes map[string]string
}

// Config configures simulated executor behavior.
type Config struct {
	// FailOnCall makes the Nth ExecuteAction call report failure (1-indexed).
	// 0 = never fail.
	FailOnCall int
	// RaiseOnCall makes the Nth call raise RaiseErr instead of reporting.
	RaiseOnCall int
	RaiseErr    error
	// DisconnectAfter drops the connection after N calls. 0 = never.
	DisconnectAfter int
	// StepDelay adds artificial delay per action.
	StepDelay time.Duration
	// Elements scripts element lookups by locator value.
	Elements map[string]Element
}

// Executor simulates a browser session. It implements core.Executor and
// core.ElementProbe.
type Executor struct {
	Config Config

	mu          sync.Mutex
	initialized bool
	connected   bool
	stopFlag    bool
	callCount   int
	currentURL  string
	browserType string
}

// New creates a simulated executor.
func New(cfg Config) *Executor {
	if cfg.RaiseOnCall > 0 && cfg.RaiseErr == nil {
		cfg.RaiseErr = core.ErrActionFailed.WithMessage("simulated raised error")
	}
	return &Executor{Config: cfg}
}

// Initialize opens a simulated session.
func (s *Executor) Initialize(kind string, config map[string]interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	s.connected = true
	s.stopFlag = false
	s.browserType = kind
	logger.Info("sim: session opened (%s)", kind)
	return true
}

// CheckConnection reports whether the simulated session is still alive.
func (s *Executor) CheckConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized && s.connected
}

// RequestStop asks the executor to abandon in-flight work.
func (s *Executor) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopFlag = true
}

// ShouldStop reports whether a stop was requested.
func (s *Executor) ShouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopFlag
}

// Close tears down the simulated session.
func (s *Executor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	s.connected = false
	logger.Info("sim: session closed")
}

// CallCount returns how many actions have executed.
func (s *Executor) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

// ExecuteAction simulates one browser action.
func (s *Executor) ExecuteAction(actionID string, params map[string]interface{}) *core.ActionResult {
	s.mu.Lock()
	s.callCount++
	count := s.callCount
	connected := s.connected
	if s.Config.DisconnectAfter > 0 && count == s.Config.DisconnectAfter {
		s.connected = false
	}
	s.mu.Unlock()

	if s.Config.StepDelay > 0 {
		time.Sleep(s.Config.StepDelay)
	}
	if !connected {
		return core.Raise(core.ErrExecutorDisconnected)
	}
	if s.Config.RaiseOnCall > 0 && count == s.Config.RaiseOnCall {
		return core.Raise(s.Config.RaiseErr)
	}
	if s.Config.FailOnCall > 0 && count == s.Config.FailOnCall {
		return core.Fail(fmt.Sprintf("simulated failure on call %d (%s)", count, actionID))
	}

	switch flow.ActionID(actionID) {
	case flow.ActionOpenBrowser:
		return core.Pass("browser opened")
	case flow.ActionCloseBrowser:
		return core.Pass("browser closed")
	case flow.ActionNavigate:
		url, _ := params["url"].(string)
		s.mu.Lock()
		s.currentURL = url
		s.mu.Unlock()
		return core.Pass(fmt.Sprintf("navigated to %s", url))
	case flow.ActionClick:
		return s.elementAction(params, "clicked")
	case flow.ActionInput:
		return s.elementAction(params, "text entered into")
	case flow.ActionWaitForElement:
		return s.elementAction(params, "found")
	case flow.ActionExtractText:
		return s.extract(params, func(el Element) string { return el.Text })
	case flow.ActionExtractAttribute:
		attr, _ := params["attribute_name"].(string)
		return s.extract(params, func(el Element) string { return el.Attributes[attr] })
	case flow.ActionTakeScreenshot:
		path, _ := params["file_path"].(string)
		return core.Pass(fmt.Sprintf("screenshot saved to %s", path))
	case flow.ActionScrollPage:
		return core.Pass("page scrolled")
	case flow.ActionExecuteJavascript:
		return core.Pass("script executed")
	default:
		return core.Raise(core.ErrUnknownAction.WithMessage(fmt.Sprintf("unknown action %q", actionID)))
	}
}

func (s *Executor) elementAction(params map[string]interface{}, verb string) *core.ActionResult {
	locator, _ := params["locator_value"].(string)
	el, ok := s.lookup(locator)
	if !ok || !el.Exists {
		return core.Fail(fmt.Sprintf("element %q not found", locator))
	}
	if !el.Enabled {
		return core.Fail(fmt.Sprintf("element %q is disabled", locator))
	}
	return core.Pass(fmt.Sprintf("%s element %q", verb, locator))
}

func (s *Executor) extract(params map[string]interface{}, value func(Element) string) *core.ActionResult {
	locator, _ := params["locator_value"].(string)
	el, ok := s.lookup(locator)
	if !ok || !el.Exists {
		return core.Fail(fmt.Sprintf("element %q not found", locator))
	}
	res := core.Pass(fmt.Sprintf("extracted from element %q", locator))
	if saveTo, _ := params["save_to_variable"].(string); saveTo != "" {
		res.Payload = &core.SavePayload{Variable: saveTo, Value: value(el)}
	}
	return res
}

// lookup resolves a locator against the scripted element table. Unknown
// locators default to an existing, visible, enabled element so demo flows
// run without scripting every selector.
func (s *Executor) lookup(locator string) (Element, bool) {
	locator = normalizeLocator(locator)
	if s.Config.Elements == nil {
		return Element{Exists: true, Visible: true, Enabled: true,
			Text: "text of " + locator}, true
	}
	el, ok := s.Config.Elements[locator]
	if !ok {
		return Element{}, false
	}
	return el, true
}

// ElementProbe implementation

func (s *Executor) ElementExists(strategy, value string, timeout float64) bool {
	el, ok := s.lookup(value)
	return ok && el.Exists
}

func (s *Executor) ElementVisible(strategy, value string, timeout float64) bool {
	el, ok := s.lookup(value)
	return ok && el.Exists && el.Visible
}

func (s *Executor) ElementEnabled(strategy, value string, timeout float64) bool {
	el, ok := s.lookup(value)
	return ok && el.Exists && el.Enabled
}

func (s *Executor) ElementText(strategy, value string, timeout float64) (string, error) {
	el, ok := s.lookup(value)
	if !ok || !el.Exists {
		return "", core.ErrActionFailed.WithMessage(fmt.Sprintf("element %q not found", value))
	}
	return el.Text, nil
}

func (s *Executor) ElementAttribute(strategy, value, attribute string, timeout float64) (string, error) {
	el, ok := s.lookup(value)
	if !ok || !el.Exists {
		return "", core.ErrActionFailed.WithMessage(fmt.Sprintf("element %q not found", value))
	}
	attr, ok := el.Attributes[attribute]
	if !ok {
		return "", core.ErrActionFailed.WithMessage(
			fmt.Sprintf("element %q has no attribute %q", value, attribute))
	}
	return attr, nil
}

// CurrentURL returns the last navigated URL.
func (s *Executor) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}

var _ core.Executor = (*Executor)(nil)
var _ core.ElementProbe = (*Executor)(nil)

// normalizeLocator trims a CSS prefix some flows carry over.
func normalizeLocator(value string) string {
	return strings.TrimPrefix(value, "css=")
}
