// File: internal/executor/executor.go

// Package executor turns decided actions into real input through a tiered
// resolution strategy: a native element operation when the automation server
// can identify a target, raw coordinate injection as the fallback, and direct
// injection for input that has no element representation.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

// Executor dispatches a single action through the appropriate tier. It holds
// no per-task state and is safe to reuse across tasks.
type Executor struct {
	cfg      config.ExecutorConfig
	resolver schemas.ElementResolver
	injector schemas.Injector
	logger   *zap.Logger
}

// New creates an executor over the given resolution and injection backends.
func New(cfg config.ExecutorConfig, resolver schemas.ElementResolver, injector schemas.Injector, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		resolver: resolver,
		injector: injector,
		logger:   logger.Named("executor"),
	}
}

// Execute performs one action and reports which tier carried it. Terminal
// actions are the loop's business and are rejected here. A failed execution
// returns both a result naming the tier that failed and a typed error.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	if err := action.Validate(); err != nil {
		return schemas.ActionResult{}, fmt.Errorf("refusing invalid action: %w", err)
	}
	if action.IsTerminal() {
		return schemas.ActionResult{}, fmt.Errorf("terminal action %q is not executable", action.Kind)
	}

	switch action.Kind {
	case schemas.ActionClick, schemas.ActionDoubleClick:
		return e.executePointer(ctx, action)
	case schemas.ActionTypeText:
		return e.direct(action, e.injector.TypeText(ctx, action.Params.Text))
	case schemas.ActionPressKey:
		return e.direct(action, e.injector.PressKey(ctx, action.Params.Key))
	case schemas.ActionHotkey:
		return e.direct(action, e.injector.Hotkey(ctx, action.Params.Keys...))
	case schemas.ActionLaunch:
		return e.direct(action, e.injector.Launch(ctx, action.Params.App))
	case schemas.ActionWait:
		return e.direct(action, wait(ctx, action.WaitDuration()))
	default:
		return schemas.ActionResult{}, fmt.Errorf("no executor for action kind %q", action.Kind)
	}
}

// executePointer runs the tiered pointer strategy. Each tier is attempted at
// most once; a degrade reason is logged, never surfaced as the step's error.
func (e *Executor) executePointer(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	x, y := action.Params.X, action.Params.Y

	// The element tier only expresses plain left-button operations. Other
	// buttons go straight to coordinate injection as their primary tier.
	if action.Kind == schemas.ActionClick && action.EffectiveButton() != schemas.ButtonLeft {
		return e.direct(action, e.injector.Click(ctx, x, y, action.EffectiveButton()))
	}

	degrade := ""
	switch {
	case !e.resolver.Live():
		degrade = "no live automation session"
	default:
		el, err := e.resolver.ElementFromPoint(ctx, x, y)
		switch {
		case err != nil:
			degrade = fmt.Sprintf("element resolution failed: %v", err)
		case el == nil:
			degrade = "no element at point"
		default:
			if err := e.clickElement(ctx, action, el); err != nil {
				degrade = fmt.Sprintf("element operation failed: %v", err)
			} else {
				e.logger.Debug("Action carried by element tier",
					zap.String("action", action.String()), zap.String("element_id", el.ID))
				return schemas.ActionResult{Success: true, Tier: schemas.TierElement}, nil
			}
		}
	}

	if !e.cfg.FallbackEnabled {
		err := &schemas.ActionExecutionError{
			Action: action,
			Tier:   schemas.TierElement,
			Err:    fmt.Errorf("%s and fallback is disabled", degrade),
		}
		return schemas.ActionResult{Success: false, Tier: schemas.TierElement, Error: err.Error()}, err
	}

	e.logger.Debug("Degrading to coordinate injection",
		zap.String("action", action.String()), zap.String("reason", degrade))

	var err error
	if action.Kind == schemas.ActionDoubleClick {
		err = e.injector.DoubleClick(ctx, x, y)
	} else {
		err = e.injector.Click(ctx, x, y, action.EffectiveButton())
	}
	if err != nil {
		execErr := &schemas.ActionExecutionError{Action: action, Tier: schemas.TierFallback, Err: err}
		return schemas.ActionResult{Success: false, Tier: schemas.TierFallback, Error: execErr.Error()}, execErr
	}
	return schemas.ActionResult{Success: true, Tier: schemas.TierFallback}, nil
}

// clickElement dispatches the native operation matching the action kind.
func (e *Executor) clickElement(ctx context.Context, action schemas.Action, el *schemas.Element) error {
	if action.Kind == schemas.ActionDoubleClick {
		return e.resolver.DoubleClickElement(ctx, el)
	}
	return e.resolver.ClickElement(ctx, el)
}

// direct wraps an injector call's outcome as a direct-tier result.
func (e *Executor) direct(action schemas.Action, err error) (schemas.ActionResult, error) {
	if err != nil {
		execErr := &schemas.ActionExecutionError{Action: action, Tier: schemas.TierDirect, Err: err}
		return schemas.ActionResult{Success: false, Tier: schemas.TierDirect, Error: execErr.Error()}, execErr
	}
	return schemas.ActionResult{Success: true, Tier: schemas.TierDirect}, nil
}

// wait pauses for the requested duration or until the context ends.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
