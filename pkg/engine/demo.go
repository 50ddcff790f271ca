package engine

import (
	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/variable"
)

// LoadDemoFlow replaces the current flow with a built-in demonstration that
// exercises conditions, loops, exception handling, and variable capture.
// It fails if a flow is executing.
func (e *Engine) LoadDemoFlow() error {
	e.mu.Lock()
	if err := e.errExecuting(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	vars := e.Variables()
	vars.ClearAll()
	_ = vars.Create("base_url", "https://example.com", variable.TypeString, variable.ScopeGlobal, "demo site")
	_ = vars.Create("pages", []interface{}{"/", "/about", "/contact"}, variable.TypeList, variable.ScopeGlobal, "paths to visit")
	_ = vars.Create("retries_left", 3, variable.TypeInteger, variable.ScopeGlobal, "")
	_ = vars.Create("page_title", "", variable.TypeString, variable.ScopeGlobal, "captured by EXTRACT_TEXT")

	steps := []flow.Step{
		flow.NewStep(flow.ActionOpenBrowser, map[string]interface{}{
			"browser_type": "chromium",
			"headless":     true,
		}),
		flow.NewStep(flow.ActionNavigate, map[string]interface{}{
			"url": "${base_url}",
		}),
		flow.NewStep(flow.ActionLogMessage, map[string]interface{}{
			"message": "visiting ${base_url} with ${retries_left} retries budgeted",
		}),

		flow.NewStep(flow.ActionIf, map[string]interface{}{
			"condition_type": string(flow.CondElementExists),
			"locator_value":  "#cookie-banner",
			"timeout":        2.0,
		}),
		flow.NewStep(flow.ActionClick, map[string]interface{}{
			"locator_strategy": "css",
			"locator_value":    "#cookie-banner .accept",
		}),
		flow.NewStep(flow.ActionElse, map[string]interface{}{}),
		flow.NewStep(flow.ActionLogMessage, map[string]interface{}{
			"message": "no cookie banner shown",
		}),
		flow.NewStep(flow.ActionEndIf, map[string]interface{}{}),

		flow.NewStep(flow.ActionForeach, map[string]interface{}{
			"collection_variable": "pages",
			"item_variable":       "path",
			"index_variable":      "n",
		}),
		flow.NewStep(flow.ActionNavigate, map[string]interface{}{
			"url": "${base_url}${path}",
		}),
		flow.NewStep(flow.ActionExtractText, map[string]interface{}{
			"locator_strategy": "css",
			"locator_value":    "h1",
			"save_to_variable": "page_title",
		}),
		flow.NewStep(flow.ActionLogMessage, map[string]interface{}{
			"message": "page ${n}: ${page_title}",
		}),
		flow.NewStep(flow.ActionEndForeach, map[string]interface{}{}),

		flow.NewStep(flow.ActionForLoop, map[string]interface{}{
			"loop_variable": "i",
			"start_value":   1,
			"end_value":     3,
			"step_value":    1,
		}),
		flow.NewStep(flow.ActionLogMessage, map[string]interface{}{
			"message": "pass ${i} of 3",
		}),
		flow.NewStep(flow.ActionWaitSeconds, map[string]interface{}{
			"seconds": 0.1,
		}),
		flow.NewStep(flow.ActionEndFor, map[string]interface{}{}),

		flow.NewStep(flow.ActionTry, map[string]interface{}{}),
		flow.NewStep(flow.ActionClick, map[string]interface{}{
			"locator_strategy": "css",
			"locator_value":    "#flaky-button",
		}),
		flow.NewStep(flow.ActionCatch, map[string]interface{}{}),
		flow.NewStep(flow.ActionLogMessage, map[string]interface{}{
			"level":   "warn",
			"message": "recovered from ${error_type}: ${error_message}",
		}),
		flow.NewStep(flow.ActionFinally, map[string]interface{}{}),
		flow.NewStep(flow.ActionTakeScreenshot, map[string]interface{}{
			"file_path": "demo-final.png",
		}),
		flow.NewStep(flow.ActionEndTry, map[string]interface{}{}),

		flow.NewStep(flow.ActionCloseBrowser, map[string]interface{}{}),
	}

	return e.LoadFlow(&flow.Flow{Name: "demo", Steps: steps})
}
