// File: api/schemas/interfaces.go
package schemas

import (
	"context"
)

// -- Capability Interfaces --

// Capturer captures the current frame of a target display.
type Capturer interface {
	// Capture grabs the display with the given index; 0 is the primary.
	Capture(ctx context.Context, display int) (*Frame, error)
}

// Injector issues raw pointer and keyboard events at the OS level. It is the
// fallback tier for pointer actions and the only tier for keyboard input.
type Injector interface {
	Click(ctx context.Context, x, y int, button MouseButton) error
	DoubleClick(ctx context.Context, x, y int) error
	// TypeText emits one key event per rune, paced by the configured typing
	// interval. The target window must already hold input focus.
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	Hotkey(ctx context.Context, keys ...string) error
	// Launch opens an application through the desktop shell search sequence.
	Launch(ctx context.Context, app string) error
}

// Computer is the single capability surface a task drives: observation plus
// action. Implementations are fixed at construction (hybrid, native, mock);
// callers never inspect the concrete type.
type Computer interface {
	Capturer
	Injector
}

// -- Automation Server Interfaces --

// ElementResolver asks the automation server which UI element occupies a
// screen coordinate. A nil element with a nil error means "nothing there".
type ElementResolver interface {
	ElementFromPoint(ctx context.Context, x, y int) (*Element, error)
	// ClickElement dispatches the element's native click operation.
	ClickElement(ctx context.Context, el *Element) error
	// DoubleClickElement dispatches a native double-click on the element.
	DoubleClickElement(ctx context.Context, el *Element) error
	// Live reports whether a usable session currently backs the resolver.
	Live() bool
}

// -- Inference Interfaces --

// Decider turns perception plus task context into the next action.
type Decider interface {
	// Decide issues one request (plus at most one corrective re-prompt on a
	// malformed reply) and returns a structurally valid action.
	Decide(ctx context.Context, frame *Frame, instruction string, history []Step) (Action, error)
	// Judge compares a before/after frame pair and reports whether the
	// expected change occurred. Implementations may be heuristic.
	Judge(ctx context.Context, before, after *Frame, action Action) (bool, error)
}

// -- Persistence Interfaces --

// TranscriptStore persists task runs and their step history. Implementations
// are best-effort collaborators: the loop logs and continues on store errors.
type TranscriptStore interface {
	CreateTask(ctx context.Context, task Task) error
	AppendStep(ctx context.Context, taskID string, step Step) error
	FinishTask(ctx context.Context, result TaskResult) error
	Close() error
}
