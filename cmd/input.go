// File: cmd/input.go
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
)

// The one-shot input commands exist for scripting and for debugging the
// hybrid resolution path without involving the model.

var clickButton string

var clickCmd = &cobra.Command{
	Use:   "click <x> <y>",
	Short: "Perform a single hybrid click at a screen coordinate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, y, err := parsePoint(args)
		if err != nil {
			return err
		}
		return withRover(cmd, func(ctx context.Context, r roverSurface) error {
			result, err := r.Click(ctx, x, y, schemas.MouseButton(clickButton))
			reportTier(cmd, result)
			return err
		})
	},
}

var doubleClickCmd = &cobra.Command{
	Use:   "doubleclick <x> <y>",
	Short: "Perform a hybrid double-click at a screen coordinate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, y, err := parsePoint(args)
		if err != nil {
			return err
		}
		return withRover(cmd, func(ctx context.Context, r roverSurface) error {
			result, err := r.DoubleClick(ctx, x, y)
			reportTier(cmd, result)
			return err
		})
	},
}

var typeCmd = &cobra.Command{
	Use:   "type <text>",
	Short: "Type text into the focused window",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return withRover(cmd, func(ctx context.Context, r roverSurface) error {
			_, err := r.TypeText(ctx, text)
			return err
		})
	},
}

var keyCmd = &cobra.Command{
	Use:   "key <name>",
	Short: "Press a single key (enter, tab, esc, ...)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRover(cmd, func(ctx context.Context, r roverSurface) error {
			_, err := r.PressKey(ctx, args[0])
			return err
		})
	},
}

var hotkeyCmd = &cobra.Command{
	Use:   "hotkey <key> <key> [key...]",
	Short: "Press a key chord, modifiers first (e.g. hotkey ctrl s)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRover(cmd, func(ctx context.Context, r roverSurface) error {
			_, err := r.Hotkey(ctx, args...)
			return err
		})
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch <app>",
	Short: "Open an application by name through the desktop shell",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := strings.Join(args, " ")
		return withRover(cmd, func(ctx context.Context, r roverSurface) error {
			_, err := r.Launch(ctx, app)
			return err
		})
	},
}

func init() {
	clickCmd.Flags().StringVar(&clickButton, "button", "left", "mouse button: left, right, or middle")
	rootCmd.AddCommand(clickCmd, doubleClickCmd, typeCmd, keyCmd, hotkeyCmd, launchCmd)
}

// roverSurface is the slice of the facade the input commands need.
type roverSurface interface {
	Click(ctx context.Context, x, y int, button schemas.MouseButton) (schemas.ActionResult, error)
	DoubleClick(ctx context.Context, x, y int) (schemas.ActionResult, error)
	TypeText(ctx context.Context, text string) (schemas.ActionResult, error)
	PressKey(ctx context.Context, key string) (schemas.ActionResult, error)
	Hotkey(ctx context.Context, keys ...string) (schemas.ActionResult, error)
	Launch(ctx context.Context, app string) (schemas.ActionResult, error)
}

// withRover assembles the stack, connects when a server is configured, runs
// fn, and always tears back down.
func withRover(cmd *cobra.Command, fn func(ctx context.Context, r roverSurface) error) error {
	r, err := newRover()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer func() {
		if err := r.Close(context.Background()); err != nil {
			logger.Warn("Teardown failed", zap.Error(err))
		}
	}()

	// Element-tier resolution needs a session, but a one-shot injection
	// still works without one; connection failures only demote the tier.
	if err := r.Connect(ctx); err != nil {
		logger.Warn("Automation server unavailable, element tier disabled", zap.Error(err))
	}

	return fn(ctx, r)
}

func parsePoint(args []string) (int, int, error) {
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid x coordinate %q", args[0])
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid y coordinate %q", args[1])
	}
	return x, y, nil
}

func reportTier(cmd *cobra.Command, result schemas.ActionResult) {
	if result.Tier != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "served by %s tier\n", result.Tier)
	}
}
