// File: internal/rover/rover.go

// Package rover assembles the capture, input, driver, inference, and agent
// components into one facade the CLI drives.
package rover

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/agent"
	"github.com/averell-dev/deskrover/internal/config"
	"github.com/averell-dev/deskrover/internal/driver"
	"github.com/averell-dev/deskrover/internal/executor"
	"github.com/averell-dev/deskrover/internal/history"
	"github.com/averell-dev/deskrover/internal/inference"
	"github.com/averell-dev/deskrover/internal/input"
	"github.com/averell-dev/deskrover/internal/screen"
)

// Rover is the assembled automation stack. Construct one per process; it is
// safe for sequential use only, which mirrors the one-desktop reality.
type Rover struct {
	cfg    *config.Config
	logger *zap.Logger

	manager  *driver.Manager
	resolver schemas.ElementResolver
	capturer schemas.Capturer
	injector schemas.Injector
	executor *executor.Executor
	decider  schemas.Decider
	loop     *agent.Loop
	store    *history.Store
}

// New wires the production stack: real screen capture, real input hooks, the
// automation server manager, and the configured inference endpoint.
func New(cfg *config.Config, logger *zap.Logger) (*Rover, error) {
	manager := driver.NewManager(cfg.Driver, logger)
	return assemble(cfg, logger, manager, manager, screen.NewGrabber(logger), input.NewRobotInjector(cfg.Input, logger))
}

// NewMock wires a simulated desktop: synthetic frames, logged injections, no
// automation server. The inference endpoint is still real, which makes mock
// mode a dry run for prompts and loop policy.
func NewMock(cfg *config.Config, logger *zap.Logger) (*Rover, error) {
	mock := newMockComputer(logger)
	return assemble(cfg, logger, nil, mockResolver{}, mock, mock)
}

func assemble(
	cfg *config.Config,
	logger *zap.Logger,
	manager *driver.Manager,
	resolver schemas.ElementResolver,
	capturer schemas.Capturer,
	injector schemas.Injector,
) (*Rover, error) {
	decider := inference.NewClient(cfg.Inference, logger)
	exec := executor.New(cfg.Executor, resolver, injector, logger)
	verifier := agent.NewVerifier(cfg.Agent.Verify, decider, logger)

	var store *history.Store
	if cfg.History.Enabled {
		opened, err := history.Open(cfg.History.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("cannot open transcript store: %w", err)
		}
		store = opened
	}

	// A nil *Store must become a nil interface, not a typed nil.
	var transcript schemas.TranscriptStore
	if store != nil {
		transcript = store
	}

	return &Rover{
		cfg:      cfg,
		logger:   logger.Named("rover"),
		manager:  manager,
		resolver: resolver,
		capturer: capturer,
		injector: injector,
		executor: exec,
		decider:  decider,
		loop:     agent.NewLoop(cfg.Agent, cfg.Screen.Display, capturer, exec, decider, verifier, transcript, logger),
		store:    store,
	}, nil
}

// Connect establishes the automation server session. In mock mode it is a
// no-op: there is no server to reach.
func (r *Rover) Connect(ctx context.Context) error {
	if r.manager == nil {
		return nil
	}
	session, err := r.manager.Connect(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("Connected to automation server", zap.String("session_id", session.ID))
	return nil
}

// Disconnect tears down the session and any owned server process. Safe to
// call repeatedly and without a prior Connect.
func (r *Rover) Disconnect(ctx context.Context) error {
	if r.manager == nil {
		return nil
	}
	return r.manager.Disconnect(ctx)
}

// Close releases everything the rover holds: the session and the transcript
// store. Intended for a deferred call in the CLI.
func (r *Rover) Close(ctx context.Context) error {
	err := r.Disconnect(ctx)
	if r.store != nil {
		if cerr := r.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RunTask drives one instruction through the agent loop to a terminal
// result.
func (r *Rover) RunTask(ctx context.Context, instruction string) schemas.TaskResult {
	return r.loop.Run(ctx, instruction)
}

// Screenshot captures the configured display.
func (r *Rover) Screenshot(ctx context.Context) (*schemas.Frame, error) {
	return r.capturer.Capture(ctx, r.cfg.Screen.Display)
}

// History lists recent task runs, newest first. Returns an error when the
// transcript store is disabled.
func (r *Rover) History(ctx context.Context, limit int) ([]history.TaskSummary, error) {
	if r.store == nil {
		return nil, fmt.Errorf("transcript store is disabled")
	}
	return r.store.ListTasks(ctx, limit)
}

// -- Manual Input Surface --
//
// The one-shot input commands route through the hybrid executor, so a manual
// click gets the same element-tier treatment as an agent-decided one.

// Click performs a single hybrid click.
func (r *Rover) Click(ctx context.Context, x, y int, button schemas.MouseButton) (schemas.ActionResult, error) {
	return r.executor.Execute(ctx, schemas.Action{
		Kind:   schemas.ActionClick,
		Params: schemas.ActionParams{X: x, Y: y, Button: button},
	})
}

// DoubleClick performs a hybrid double-click.
func (r *Rover) DoubleClick(ctx context.Context, x, y int) (schemas.ActionResult, error) {
	return r.executor.Execute(ctx, schemas.Action{
		Kind:   schemas.ActionDoubleClick,
		Params: schemas.ActionParams{X: x, Y: y},
	})
}

// TypeText types text into the focused window at the configured cadence.
func (r *Rover) TypeText(ctx context.Context, text string) (schemas.ActionResult, error) {
	return r.executor.Execute(ctx, schemas.Action{
		Kind:   schemas.ActionTypeText,
		Params: schemas.ActionParams{Text: text},
	})
}

// PressKey taps a single named key.
func (r *Rover) PressKey(ctx context.Context, key string) (schemas.ActionResult, error) {
	return r.executor.Execute(ctx, schemas.Action{
		Kind:   schemas.ActionPressKey,
		Params: schemas.ActionParams{Key: key},
	})
}

// Hotkey presses a key chord, modifiers first.
func (r *Rover) Hotkey(ctx context.Context, keys ...string) (schemas.ActionResult, error) {
	return r.executor.Execute(ctx, schemas.Action{
		Kind:   schemas.ActionHotkey,
		Params: schemas.ActionParams{Keys: keys},
	})
}

// Launch opens an application by name through the desktop shell.
func (r *Rover) Launch(ctx context.Context, app string) (schemas.ActionResult, error) {
	return r.executor.Execute(ctx, schemas.Action{
		Kind:   schemas.ActionLaunch,
		Params: schemas.ActionParams{App: app},
	})
}
