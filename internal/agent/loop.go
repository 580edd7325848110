// File: internal/agent/loop.go

// Package agent runs the perceive -> decide -> act -> verify loop that turns
// a natural-language instruction into a bounded sequence of desktop actions.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

// ActionExecutor dispatches one decided action. Satisfied by the hybrid
// executor; narrowed to an interface so loop tests can script outcomes.
type ActionExecutor interface {
	Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error)
}

// Loop drives one task at a time. It owns no sessions or processes; those
// belong to the caller, which is what keeps teardown correct when a run is
// interrupted mid-step.
type Loop struct {
	cfg      config.AgentConfig
	display  int
	capturer schemas.Capturer
	executor ActionExecutor
	decider  schemas.Decider
	verifier *Verifier
	store    schemas.TranscriptStore
	logger   *zap.Logger
}

// NewLoop assembles a task loop. store may be nil to disable transcripts.
func NewLoop(
	cfg config.AgentConfig,
	display int,
	capturer schemas.Capturer,
	executor ActionExecutor,
	decider schemas.Decider,
	verifier *Verifier,
	store schemas.TranscriptStore,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		cfg:      cfg,
		display:  display,
		capturer: capturer,
		executor: executor,
		decider:  decider,
		verifier: verifier,
		store:    store,
		logger:   logger.Named("agent"),
	}
}

// Run executes one task to a terminal outcome. Every exit path yields a
// TaskResult; budget exhaustion, cancellation, and model-declared failure
// are results, not errors.
func (l *Loop) Run(ctx context.Context, instruction string) schemas.TaskResult {
	task := schemas.Task{
		ID:          uuid.NewString(),
		Instruction: instruction,
		StepBudget:  l.cfg.MaxSteps,
		TimeBudget:  l.cfg.TimeBudget,
		StartedAt:   time.Now(),
	}

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.TimeBudget)
	defer cancel()

	l.logger.Info("Task started",
		zap.String("task_id", task.ID),
		zap.String("instruction", instruction),
		zap.Int("step_budget", task.StepBudget),
		zap.Duration("time_budget", task.TimeBudget))

	if l.store != nil {
		if err := l.store.CreateTask(runCtx, task); err != nil {
			// The transcript is a best-effort record; the run proceeds.
			l.logger.Warn("Failed to persist task record", zap.Error(err))
		}
	}

	result := l.run(ctx, runCtx, task)
	result.Elapsed = time.Since(task.StartedAt)

	if l.store != nil {
		// Use a fresh context: the run context may already be dead.
		storeCtx, storeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer storeCancel()
		if err := l.store.FinishTask(storeCtx, result); err != nil {
			l.logger.Warn("Failed to persist task result", zap.Error(err))
		}
	}

	l.logger.Info("Task finished",
		zap.String("task_id", task.ID),
		zap.String("status", string(result.Status)),
		zap.String("reason", result.Reason),
		zap.Int("steps", len(result.Steps)))
	return result
}

// run is the loop body. parentCtx distinguishes external cancellation from
// time-budget expiry on exit.
func (l *Loop) run(parentCtx, runCtx context.Context, task schemas.Task) schemas.TaskResult {
	var steps []schemas.Step
	failures := 0

	finish := func(status schemas.TaskStatus, reason, answer string) schemas.TaskResult {
		return schemas.TaskResult{
			TaskID:      task.ID,
			Instruction: task.Instruction,
			Status:      status,
			Reason:      reason,
			Answer:      answer,
			Steps:       steps,
		}
	}

	for number := 1; number <= l.cfg.MaxSteps; number++ {
		if runCtx.Err() != nil {
			return finish(schemas.StatusFailed, interruptReason(parentCtx), "")
		}

		step, terminal := l.runStep(runCtx, task, number, steps)
		if terminal != nil {
			return finish(terminal.status, terminal.reason, terminal.answer)
		}

		steps = append(steps, step)
		if l.store != nil {
			if err := l.store.AppendStep(runCtx, task.ID, step); err != nil {
				l.logger.Warn("Failed to persist step", zap.Error(err))
			}
		}

		if step.Error != "" || !step.Result.Success {
			failures++
			if failures >= l.cfg.MaxFailures {
				return finish(schemas.StatusFailed, schemas.ReasonTooManyFailures, "")
			}
		} else {
			failures = 0
		}

		if err := sleepCtx(runCtx, l.cfg.StepDelay); err != nil {
			return finish(schemas.StatusFailed, interruptReason(parentCtx), "")
		}
	}

	return finish(schemas.StatusFailed, schemas.ReasonBudgetExceeded, "")
}

// terminalOutcome signals that the loop should stop instead of recording a
// step.
type terminalOutcome struct {
	status schemas.TaskStatus
	reason string
	answer string
}

// runStep performs one full iteration. A non-nil terminalOutcome ends the
// task; otherwise the returned step is recorded, failed or not.
func (l *Loop) runStep(runCtx context.Context, task schemas.Task, number int, history []schemas.Step) (schemas.Step, *terminalOutcome) {
	stepCtx, cancel := context.WithTimeout(runCtx, l.cfg.StepTimeout)
	defer cancel()

	started := time.Now()
	step := schemas.Step{Number: number, OccurredAt: started}
	fail := func(err error) (schemas.Step, *terminalOutcome) {
		step.Error = err.Error()
		step.Elapsed = time.Since(started)
		l.logger.Warn("Step failed",
			zap.String("task_id", task.ID), zap.Int("step", number), zap.Error(err))
		return step, nil
	}

	// Perceive.
	before, err := l.capturer.Capture(stepCtx, l.display)
	if err != nil {
		return fail(err)
	}
	step.FrameID = before.ID

	// Decide.
	action, err := l.decider.Decide(stepCtx, before, task.Instruction, l.window(history))
	if err != nil {
		return fail(err)
	}
	step.Action = action

	l.logger.Info("Step decided",
		zap.String("task_id", task.ID),
		zap.Int("step", number),
		zap.String("action", action.String()))

	if action.IsTerminal() {
		if action.Kind == schemas.ActionDone {
			return step, &terminalOutcome{status: schemas.StatusDone, answer: action.Params.Result}
		}
		reason := action.Params.Reason
		if reason == "" {
			reason = "model declared the task impossible"
		}
		return step, &terminalOutcome{status: schemas.StatusFailed, reason: reason}
	}

	// Act.
	result, err := l.executor.Execute(stepCtx, action)
	step.Result = result
	if err != nil {
		step.Elapsed = time.Since(started)
		l.logger.Warn("Action failed",
			zap.String("task_id", task.ID),
			zap.Int("step", number),
			zap.String("tier", string(result.Tier)),
			zap.Error(err))
		return step, nil
	}

	// Verify.
	step.Verified = l.verifyStep(stepCtx, task, &step, before, action)
	step.Elapsed = time.Since(started)
	return step, nil
}

// verifyStep applies the configured verification mode after a successful
// action. In retry mode an unverified step earns exactly one re-execution.
func (l *Loop) verifyStep(ctx context.Context, task schemas.Task, step *schemas.Step, before *schemas.Frame, action schemas.Action) bool {
	if l.cfg.Verify.Mode == config.VerifyOff || !verifiable(action) {
		return true
	}

	after, err := l.capturer.Capture(ctx, l.display)
	if err != nil {
		l.logger.Warn("Verification capture failed, skipping check", zap.Error(err))
		return true
	}

	verified := l.verifier.Verify(ctx, before, after, action)
	if verified || l.cfg.Verify.Mode != config.VerifyRetry {
		if !verified {
			l.logger.Info("No screen change observed after action",
				zap.String("task_id", task.ID),
				zap.Int("step", step.Number),
				zap.String("action", action.String()))
		}
		return verified
	}

	l.logger.Info("No screen change observed, retrying action once",
		zap.String("task_id", task.ID),
		zap.Int("step", step.Number),
		zap.String("action", action.String()))

	result, err := l.executor.Execute(ctx, action)
	if err != nil {
		return false
	}
	step.Result = result

	recheck, err := l.capturer.Capture(ctx, l.display)
	if err != nil {
		return false
	}
	return l.verifier.Verify(ctx, after, recheck, action)
}

// window returns the most recent steps that accompany an inference call.
func (l *Loop) window(history []schemas.Step) []schemas.Step {
	if l.cfg.HistoryWindow <= 0 || len(history) <= l.cfg.HistoryWindow {
		return history
	}
	return history[len(history)-l.cfg.HistoryWindow:]
}

// verifiable reports whether an action is expected to change the screen.
// Waits exist precisely because nothing has changed yet.
func verifiable(action schemas.Action) bool {
	return action.Kind != schemas.ActionWait
}

// interruptReason maps context death to the terminal reason vocabulary: a
// dead parent is a cancellation, otherwise the time budget expired.
func interruptReason(parentCtx context.Context) string {
	if parentCtx.Err() != nil {
		return schemas.ReasonCancelled
	}
	return schemas.ReasonTimeout
}

// sleepCtx pauses between steps unless the run ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
