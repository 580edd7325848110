// File: api/schemas/actions.go
package schemas

import (
	"fmt"
	"time"
)

// ActionKind enumerates the action variants the inference endpoint may emit.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionTypeText    ActionKind = "type_text"
	ActionPressKey    ActionKind = "press_key"
	ActionHotkey      ActionKind = "hotkey"
	ActionLaunch      ActionKind = "launch"
	ActionWait        ActionKind = "wait"
	ActionDone        ActionKind = "done"
	ActionFail        ActionKind = "fail"
)

// MouseButton identifies the physical button for pointer actions.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Action is the tagged variant produced by the Inference Client and consumed
// by the executor and the agent loop. Params is a flat bag; Validate enforces
// the per-kind structural requirements.
type Action struct {
	Kind   ActionKind   `json:"action"`
	Params ActionParams `json:"params"`
}

// ActionParams carries the union of parameters across all action kinds.
// Unused fields are zero for a given kind.
type ActionParams struct {
	X          int         `json:"x,omitempty"`
	Y          int         `json:"y,omitempty"`
	Button     MouseButton `json:"button,omitempty"`
	Text       string      `json:"text,omitempty"`
	Key        string      `json:"key,omitempty"`
	Keys       []string    `json:"keys,omitempty"`
	App        string      `json:"app,omitempty"`
	DurationMs int         `json:"duration_ms,omitempty"`
	Result     string      `json:"result,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// IsPointer reports whether the action targets a screen coordinate and is
// therefore eligible for element-tier resolution.
func (a Action) IsPointer() bool {
	return a.Kind == ActionClick || a.Kind == ActionDoubleClick
}

// IsTerminal reports whether the action ends the task loop.
func (a Action) IsTerminal() bool {
	return a.Kind == ActionDone || a.Kind == ActionFail
}

// WaitDuration returns the pause requested by a wait action.
func (a Action) WaitDuration() time.Duration {
	return time.Duration(a.Params.DurationMs) * time.Millisecond
}

// Validate checks structural validity only: a recognized kind and the
// parameters that kind requires. Feasibility (does the coordinate exist, is
// the app installed) is intentionally not judged here.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionClick:
		if a.Params.X < 0 || a.Params.Y < 0 {
			return fmt.Errorf("click requires non-negative coordinates, got (%d, %d)", a.Params.X, a.Params.Y)
		}
		switch a.Params.Button {
		case "", ButtonLeft, ButtonRight, ButtonMiddle:
		default:
			return fmt.Errorf("unknown mouse button %q", a.Params.Button)
		}
	case ActionDoubleClick:
		if a.Params.X < 0 || a.Params.Y < 0 {
			return fmt.Errorf("double_click requires non-negative coordinates, got (%d, %d)", a.Params.X, a.Params.Y)
		}
	case ActionTypeText:
		if a.Params.Text == "" {
			return fmt.Errorf("type_text requires a non-empty 'text' parameter")
		}
	case ActionPressKey:
		if a.Params.Key == "" {
			return fmt.Errorf("press_key requires a non-empty 'key' parameter")
		}
	case ActionHotkey:
		if len(a.Params.Keys) < 2 {
			return fmt.Errorf("hotkey requires at least two keys, got %d", len(a.Params.Keys))
		}
	case ActionLaunch:
		if a.Params.App == "" {
			return fmt.Errorf("launch requires a non-empty 'app' parameter")
		}
	case ActionWait:
		if a.Params.DurationMs <= 0 {
			return fmt.Errorf("wait requires a positive 'duration_ms', got %d", a.Params.DurationMs)
		}
	case ActionDone, ActionFail:
		// Result/Reason are free-form and may be empty.
	case "":
		return fmt.Errorf("action kind is missing")
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// Button returns the effective mouse button for a click, defaulting to left.
func (a Action) EffectiveButton() MouseButton {
	if a.Params.Button == "" {
		return ButtonLeft
	}
	return a.Params.Button
}

// String renders a compact human-readable form for logs and step records.
func (a Action) String() string {
	switch a.Kind {
	case ActionClick:
		return fmt.Sprintf("click(%d, %d, %s)", a.Params.X, a.Params.Y, a.EffectiveButton())
	case ActionDoubleClick:
		return fmt.Sprintf("double_click(%d, %d)", a.Params.X, a.Params.Y)
	case ActionTypeText:
		return fmt.Sprintf("type_text(%d chars)", len(a.Params.Text))
	case ActionPressKey:
		return fmt.Sprintf("press_key(%s)", a.Params.Key)
	case ActionHotkey:
		return fmt.Sprintf("hotkey(%v)", a.Params.Keys)
	case ActionLaunch:
		return fmt.Sprintf("launch(%s)", a.Params.App)
	case ActionWait:
		return fmt.Sprintf("wait(%dms)", a.Params.DurationMs)
	case ActionDone:
		return "done"
	case ActionFail:
		return fmt.Sprintf("fail(%s)", a.Params.Reason)
	default:
		return string(a.Kind)
	}
}
