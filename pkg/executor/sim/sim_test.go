package sim

import (
	"errors"
	"strings"
	"testing"

	"github.com/browsergrid/flowkit/pkg/core"
)

func TestSessionLifecycle(t *testing.T) {
	s := New(Config{})
	if s.CheckConnection() {
		t.Error("fresh executor should not be connected")
	}
	if !s.Initialize("chromium", nil) {
		t.Fatal("Initialize() = false")
	}
	if !s.CheckConnection() {
		t.Error("executor should be connected after Initialize")
	}
	s.Close()
	if s.CheckConnection() {
		t.Error("executor should be disconnected after Close")
	}
}

func TestStopFlag(t *testing.T) {
	s := New(Config{})
	s.Initialize("chromium", nil)
	if s.ShouldStop() {
		t.Error("stop flag should start clear")
	}
	s.RequestStop()
	if !s.ShouldStop() {
		t.Error("stop flag should be set after RequestStop")
	}
	s.Initialize("chromium", nil)
	if s.ShouldStop() {
		t.Error("Initialize should clear the stop flag")
	}
}

func TestDefaultElementsAlwaysExist(t *testing.T) {
	s := New(Config{})
	s.Initialize("chromium", nil)

	res := s.ExecuteAction("ELEMENT_CLICK", map[string]interface{}{"locator_value": "#anything"})
	if !res.Success {
		t.Errorf("click on unscripted element = %+v, want success", res)
	}
	if !s.ElementExists("css", "#anything", 1) {
		t.Error("unscripted elements should exist by default")
	}
	text, err := s.ElementText("css", "#title", 1)
	if err != nil {
		t.Fatal(err)
	}
	if text != "text of #title" {
		t.Errorf("ElementText() = %q", text)
	}
}

func TestScriptedElements(t *testing.T) {
	s := New(Config{Elements: map[string]Element{
		"#ok":       {Exists: true, Visible: true, Enabled: true, Text: "hello", Attributes: map[string]string{"href": "/next"}},
		"#disabled": {Exists: true, Visible: true, Enabled: false},
		"#hidden":   {Exists: true, Visible: false, Enabled: true},
	}})
	s.Initialize("chromium", nil)

	res := s.ExecuteAction("ELEMENT_CLICK", map[string]interface{}{"locator_value": "#ok"})
	if !res.Success {
		t.Errorf("click #ok = %+v", res)
	}
	res = s.ExecuteAction("ELEMENT_CLICK", map[string]interface{}{"locator_value": "#disabled"})
	if res.Success || !strings.Contains(res.Message, "disabled") {
		t.Errorf("click #disabled = %+v, want a disabled failure", res)
	}
	res = s.ExecuteAction("ELEMENT_CLICK", map[string]interface{}{"locator_value": "#missing"})
	if res.Success || !strings.Contains(res.Message, "not found") {
		t.Errorf("click #missing = %+v, want a not-found failure", res)
	}

	if s.ElementVisible("css", "#hidden", 1) {
		t.Error("#hidden should not be visible")
	}
	if !s.ElementEnabled("css", "#ok", 1) {
		t.Error("#ok should be enabled")
	}
	if s.ElementEnabled("css", "#disabled", 1) {
		t.Error("#disabled should not be enabled")
	}

	attr, err := s.ElementAttribute("css", "#ok", "href", 1)
	if err != nil || attr != "/next" {
		t.Errorf("ElementAttribute() = (%q, %v)", attr, err)
	}
	if _, err := s.ElementAttribute("css", "#ok", "missing", 1); err == nil {
		t.Error("missing attribute should return an error")
	}
	if _, err := s.ElementText("css", "#missing", 1); err == nil {
		t.Error("missing element should return an error")
	}
}

func TestLocatorPrefixNormalized(t *testing.T) {
	s := New(Config{Elements: map[string]Element{
		"#btn": {Exists: true, Visible: true, Enabled: true},
	}})
	if !s.ElementExists("css", "css=#btn", 1) {
		t.Error("css= prefixed locator should resolve")
	}
}

func TestExtractPayload(t *testing.T) {
	s := New(Config{Elements: map[string]Element{
		"#title": {Exists: true, Text: "Welcome", Attributes: map[string]string{"id": "title"}},
	}})
	s.Initialize("chromium", nil)

	res := s.ExecuteAction("EXTRACT_TEXT", map[string]interface{}{
		"locator_value": "#title", "save_to_variable": "page_title",
	})
	if !res.Success || res.Payload == nil {
		t.Fatalf("extract = %+v, want success with payload", res)
	}
	if res.Payload.Variable != "page_title" || res.Payload.Value != "Welcome" {
		t.Errorf("payload = %+v", res.Payload)
	}

	res = s.ExecuteAction("EXTRACT_ATTRIBUTE", map[string]interface{}{
		"locator_value": "#title", "attribute_name": "id", "save_to_variable": "el_id",
	})
	if !res.Success || res.Payload == nil || res.Payload.Value != "title" {
		t.Fatalf("extract attribute = %+v", res)
	}

	// Without a target variable no payload is attached.
	res = s.ExecuteAction("EXTRACT_TEXT", map[string]interface{}{"locator_value": "#title"})
	if !res.Success || res.Payload != nil {
		t.Errorf("extract without save_to_variable = %+v, want no payload", res)
	}
}

func TestNavigationTracksURL(t *testing.T) {
	s := New(Config{})
	s.Initialize("chromium", nil)
	res := s.ExecuteAction("PAGE_GET", map[string]interface{}{"url": "https://example.com"})
	if !res.Success {
		t.Fatalf("navigate = %+v", res)
	}
	if got := s.CurrentURL(); got != "https://example.com" {
		t.Errorf("CurrentURL() = %q", got)
	}
}

func TestFailOnCall(t *testing.T) {
	s := New(Config{FailOnCall: 2})
	s.Initialize("chromium", nil)

	if res := s.ExecuteAction("SCROLL_PAGE", nil); !res.Success {
		t.Errorf("call 1 = %+v, want success", res)
	}
	res := s.ExecuteAction("SCROLL_PAGE", nil)
	if res.Success || res.Err != nil {
		t.Errorf("call 2 = %+v, want a reported failure", res)
	}
	if !strings.Contains(res.Message, "simulated failure on call 2") {
		t.Errorf("message = %q", res.Message)
	}
	if res := s.ExecuteAction("SCROLL_PAGE", nil); !res.Success {
		t.Errorf("call 3 = %+v, want success", res)
	}
	if got := s.CallCount(); got != 3 {
		t.Errorf("CallCount() = %d, want 3", got)
	}
}

func TestRaiseOnCall(t *testing.T) {
	boom := errors.New("boom")
	s := New(Config{RaiseOnCall: 1, RaiseErr: boom})
	s.Initialize("chromium", nil)

	res := s.ExecuteAction("SCROLL_PAGE", nil)
	if res.Success || !errors.Is(res.Err, boom) {
		t.Errorf("raised result = %+v, want the configured error", res)
	}
}

func TestRaiseOnCallDefaultError(t *testing.T) {
	s := New(Config{RaiseOnCall: 1})
	res := func() *core.ActionResult {
		s.Initialize("chromium", nil)
		return s.ExecuteAction("SCROLL_PAGE", nil)
	}()
	if res.Err == nil {
		t.Fatal("want a raised error")
	}
}

func TestDisconnectAfter(t *testing.T) {
	s := New(Config{DisconnectAfter: 1})
	s.Initialize("chromium", nil)

	if res := s.ExecuteAction("SCROLL_PAGE", nil); !res.Success {
		t.Errorf("call 1 = %+v, want success", res)
	}
	res := s.ExecuteAction("SCROLL_PAGE", nil)
	if res.Err == nil || !errors.Is(res.Err, core.ErrExecutorDisconnected) {
		t.Errorf("call 2 = %+v, want a raised disconnect", res)
	}
	if s.CheckConnection() {
		t.Error("connection should be down")
	}
	s.Initialize("chromium", nil)
	if res := s.ExecuteAction("SCROLL_PAGE", nil); !res.Success {
		t.Errorf("call after reinit = %+v, want success", res)
	}
}

func TestUnknownActionRaises(t *testing.T) {
	s := New(Config{})
	s.Initialize("chromium", nil)
	res := s.ExecuteAction("TELEPORT", nil)
	if res.Err == nil || core.ErrorCode(res.Err) != "unknown_action" {
		t.Errorf("unknown action = %+v, want a raised unknown-action error", res)
	}
}
