// File: api/schemas/task.go
package schemas

import "time"

// ResolutionTier records which mechanism served an action.
type ResolutionTier string

const (
	// TierElement means the automation server resolved a UI element and the
	// click was dispatched through its native operation.
	TierElement ResolutionTier = "element"
	// TierFallback means the action was served by raw coordinate injection.
	TierFallback ResolutionTier = "fallback"
	// TierDirect covers keyboard/wait actions that never consult the
	// automation server.
	TierDirect ResolutionTier = "direct"
)

// TaskStatus is the terminal status of a task run.
type TaskStatus string

const (
	StatusDone   TaskStatus = "done"
	StatusFailed TaskStatus = "failed"
)

// Terminal failure reasons used in TaskResult.Reason. A Fail action or an
// unrecoverable session error carries its own free-form reason instead.
const (
	ReasonBudgetExceeded  = "budget_exceeded"
	ReasonTimeout         = "timeout"
	ReasonTooManyFailures = "too_many_failures"
	ReasonCancelled       = "cancelled"
)

// Task is one natural-language driven automation run with its budgets.
type Task struct {
	ID          string        `json:"id"`
	Instruction string        `json:"instruction"`
	StepBudget  int           `json:"step_budget"`
	TimeBudget  time.Duration `json:"time_budget"`
	StartedAt   time.Time     `json:"started_at"`
}

// Frame describes one captured screenshot. The PNG bytes live alongside the
// descriptor so steps can reference a capture without re-encoding it.
type Frame struct {
	ID         string    `json:"id"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
	PNG        []byte    `json:"-"`
}

// Element is the ephemeral handle the automation server reports for a point
// lookup. It must not outlive the action it was resolved for.
type Element struct {
	ID   string `json:"id"`
	Rect Rect   `json:"rect"`
}

// Rect is a screen-space bounding rectangle.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ActionResult is the outcome of dispatching a single action.
type ActionResult struct {
	Success bool           `json:"success"`
	Tier    ResolutionTier `json:"tier"`
	Error   string         `json:"error,omitempty"`
}

// Step records one perceive -> decide -> act -> verify iteration.
type Step struct {
	Number     int           `json:"number"`
	FrameID    string        `json:"frame_id,omitempty"`
	Action     Action        `json:"action"`
	Result     ActionResult  `json:"result"`
	Verified   bool          `json:"verified"`
	Elapsed    time.Duration `json:"elapsed"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// AgentState is the loop's mutable bookkeeping. The step counter is
// monotonic; the loop halts at or before the configured step budget.
type AgentState struct {
	Steps               int           `json:"steps"`
	Elapsed             time.Duration `json:"elapsed"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Terminal            bool          `json:"terminal"`
	TerminalReason      string        `json:"terminal_reason,omitempty"`
}

// TaskResult is what every RunTask call returns, terminal or not crashed:
// a status plus a human-readable reason and the recorded step history.
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Instruction string        `json:"instruction"`
	Status      TaskStatus    `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Answer      string        `json:"answer,omitempty"`
	Steps       []Step        `json:"steps"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Succeeded reports whether the task reached DONE.
func (r TaskResult) Succeeded() bool { return r.Status == StatusDone }
