// File: internal/input/injector.go
package input

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

// launchSettle is the pause after opening the shell search before typing the
// application name, and again before confirming.
const launchSettle = 500 * time.Millisecond

// keyAliases maps the action vocabulary onto the names the OS hook library
// understands.
var keyAliases = map[string]string{
	"win":     "cmd",
	"meta":    "cmd",
	"super":   "cmd",
	"esc":     "escape",
	"return":  "enter",
	"del":     "delete",
	"ctl":     "ctrl",
	"control": "ctrl",
}

// RobotInjector issues OS-level pointer and keyboard events. It is the
// coordinate fallback tier and the sole path for keyboard input. Implements
// schemas.Injector.
type RobotInjector struct {
	cfg    config.InputConfig
	logger *zap.Logger
}

// NewRobotInjector creates an injector with the configured pacing.
func NewRobotInjector(cfg config.InputConfig, logger *zap.Logger) *RobotInjector {
	return &RobotInjector{cfg: cfg, logger: logger.Named("input")}
}

// Click moves the pointer to the coordinate and presses the given button.
func (r *RobotInjector) Click(ctx context.Context, x, y int, button schemas.MouseButton) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	robotgo.Move(x, y)
	robotgo.Click(robotButton(button), false)
	r.logger.Debug("Pointer click injected",
		zap.Int("x", x), zap.Int("y", y), zap.String("button", string(button)))
	return sleepCtx(ctx, r.cfg.ClickPause)
}

// DoubleClick moves the pointer to the coordinate and double-clicks.
func (r *RobotInjector) DoubleClick(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	robotgo.Move(x, y)
	robotgo.Click("left", true)
	r.logger.Debug("Pointer double-click injected", zap.Int("x", x), zap.Int("y", y))
	return sleepCtx(ctx, r.cfg.ClickPause)
}

// TypeText emits the text one rune at a time at the configured cadence. The
// pacing keeps legacy applications from dropping synthetic keystrokes, and
// the per-rune context check makes long strings cancellable.
func (r *RobotInjector) TypeText(ctx context.Context, text string) error {
	limiter := rate.NewLimiter(rate.Every(r.cfg.TypingInterval), 1)
	for _, ch := range text {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("typing interrupted: %w", err)
		}
		robotgo.TypeStr(string(ch))
	}
	r.logger.Debug("Text typed", zap.Int("runes", len([]rune(text))))
	return nil
}

// PressKey taps a single named key.
func (r *RobotInjector) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := robotgo.KeyTap(normalizeKey(key)); err != nil {
		return fmt.Errorf("key press %q failed: %w", key, err)
	}
	r.logger.Debug("Key pressed", zap.String("key", key))
	return nil
}

// Hotkey presses a chord: every key but the last acts as a modifier held
// around the final key.
func (r *RobotInjector) Hotkey(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) < 2 {
		return fmt.Errorf("hotkey needs at least two keys, got %d", len(keys))
	}

	tap := normalizeKey(keys[len(keys)-1])
	modifiers := make([]interface{}, 0, len(keys)-1)
	for _, k := range keys[:len(keys)-1] {
		modifiers = append(modifiers, normalizeKey(k))
	}

	if err := robotgo.KeyTap(tap, modifiers...); err != nil {
		return fmt.Errorf("hotkey %s failed: %w", strings.Join(keys, "+"), err)
	}
	r.logger.Debug("Hotkey pressed", zap.Strings("keys", keys))
	return nil
}

// Launch opens an application through the desktop shell: open search, type
// the name, confirm. This works without knowing installation paths.
func (r *RobotInjector) Launch(ctx context.Context, app string) error {
	if err := robotgo.KeyTap("cmd"); err != nil {
		return fmt.Errorf("failed to open shell search: %w", err)
	}
	if err := sleepCtx(ctx, launchSettle); err != nil {
		return err
	}
	if err := r.TypeText(ctx, app); err != nil {
		return err
	}
	if err := sleepCtx(ctx, launchSettle); err != nil {
		return err
	}
	if err := robotgo.KeyTap("enter"); err != nil {
		return fmt.Errorf("failed to confirm launch: %w", err)
	}
	r.logger.Info("Application launch requested", zap.String("app", app))
	return nil
}

// robotButton maps the action vocabulary onto hook library button names.
func robotButton(b schemas.MouseButton) string {
	switch b {
	case schemas.ButtonMiddle:
		return "center"
	case "":
		return string(schemas.ButtonLeft)
	default:
		return string(b)
	}
}

// normalizeKey lowercases a key name and resolves known aliases.
func normalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// sleepCtx pauses for d unless the context ends first.
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
