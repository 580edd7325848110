// File: api/schemas/errors.go
package schemas

import "fmt"

// The error taxonomy is deliberately small and typed: low-level components
// return one of these, the executor degrades on ElementResolutionError when
// fallback is permitted, and the agent loop converts everything else into
// recorded step failures rather than propagating.

// CaptureError indicates the display could not be read.
type CaptureError struct {
	Display int
	Err     error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("screen capture failed for display %d: %v", e.Display, e.Err)
}
func (e *CaptureError) Unwrap() error { return e.Err }

// ConnectionError indicates the automation server never became reachable
// within the connect timeout.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("automation server unreachable at %s: %v", e.Addr, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }

// SessionError indicates the server was reachable but rejected session
// creation, or an established session became unusable.
type SessionError struct {
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("session creation rejected: %v", e.Err)
	}
	return fmt.Sprintf("session %s failed: %v", e.SessionID, e.Err)
}
func (e *SessionError) Unwrap() error { return e.Err }

// ElementResolutionError is a transport or timeout failure during a point
// lookup. "No element at that point" is not an error and is reported as a
// nil element instead.
type ElementResolutionError struct {
	X, Y int
	Err  error
}

func (e *ElementResolutionError) Error() string {
	return fmt.Sprintf("element resolution failed at (%d, %d): %v", e.X, e.Y, e.Err)
}
func (e *ElementResolutionError) Unwrap() error { return e.Err }

// ActionExecutionError means every permitted resolution tier failed. Tier
// names which tier was the last to fail.
type ActionExecutionError struct {
	Action Action
	Tier   ResolutionTier
	Err    error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s failed at %s tier: %v", e.Action, e.Tier, e.Err)
}
func (e *ActionExecutionError) Unwrap() error { return e.Err }

// InferenceError is a transport or timeout failure talking to the inference
// endpoint.
type InferenceError struct {
	Endpoint string
	Err      error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference request to %s failed: %v", e.Endpoint, e.Err)
}
func (e *InferenceError) Unwrap() error { return e.Err }

// ParseError means the model's response was structurally invalid twice: the
// original reply and the single corrective re-prompt both failed to parse.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("model response is not a valid action after corrective re-prompt: %v", e.Err)
}
func (e *ParseError) Unwrap() error { return e.Err }

// BudgetExceededError reports that a step or time budget was exhausted.
type BudgetExceededError struct {
	Reason string // ReasonBudgetExceeded or ReasonTimeout
	Steps  int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("task budget exhausted (%s) after %d steps", e.Reason, e.Steps)
}
