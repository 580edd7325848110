// File: internal/rover/mock.go
package rover

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/screen"
)

// mockComputer simulates a desktop: captures return a synthetic frame that
// changes after every injected action, so the whole loop including
// verification can run without a real screen or input hooks.
type mockComputer struct {
	logger *zap.Logger

	mu      sync.Mutex
	epoch   int
	actions []string
}

func newMockComputer(logger *zap.Logger) *mockComputer {
	return &mockComputer{logger: logger.Named("mock")}
}

// Actions returns everything injected so far, in order.
func (m *mockComputer) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.actions...)
}

func (m *mockComputer) record(action string) {
	m.mu.Lock()
	m.actions = append(m.actions, action)
	m.epoch++
	m.mu.Unlock()
	m.logger.Info("Simulated action", zap.String("action", action))
}

// Capture renders a synthetic frame whose content depends on how many
// actions have been simulated.
func (m *mockComputer) Capture(ctx context.Context, display int) (*schemas.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, &schemas.CaptureError{Display: display, Err: err}
	}

	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, 320, 200))
	shade := uint8(40 + (epoch*37)%180)
	for y := 0; y < 200; y++ {
		for x := 0; x < 320; x++ {
			img.SetRGBA(x, y, color.RGBA{R: shade, G: shade, B: uint8(200 - shade/2), A: 255})
		}
	}
	return screen.EncodeFrame(img)
}

func (m *mockComputer) Click(ctx context.Context, x, y int, button schemas.MouseButton) error {
	m.record(fmt.Sprintf("click(%d, %d, %s)", x, y, button))
	return nil
}

func (m *mockComputer) DoubleClick(ctx context.Context, x, y int) error {
	m.record(fmt.Sprintf("double_click(%d, %d)", x, y))
	return nil
}

func (m *mockComputer) TypeText(ctx context.Context, text string) error {
	m.record(fmt.Sprintf("type_text(%q)", text))
	return nil
}

func (m *mockComputer) PressKey(ctx context.Context, key string) error {
	m.record(fmt.Sprintf("press_key(%s)", key))
	return nil
}

func (m *mockComputer) Hotkey(ctx context.Context, keys ...string) error {
	m.record(fmt.Sprintf("hotkey(%v)", keys))
	return nil
}

func (m *mockComputer) Launch(ctx context.Context, app string) error {
	m.record(fmt.Sprintf("launch(%s)", app))
	return nil
}

// mockResolver reports no automation session, forcing the executor onto the
// simulated coordinate path.
type mockResolver struct{}

func (mockResolver) Live() bool { return false }

func (mockResolver) ElementFromPoint(ctx context.Context, x, y int) (*schemas.Element, error) {
	return nil, nil
}

func (mockResolver) ClickElement(ctx context.Context, el *schemas.Element) error {
	return &schemas.SessionError{Err: fmt.Errorf("no session in mock mode")}
}

func (mockResolver) DoubleClickElement(ctx context.Context, el *schemas.Element) error {
	return &schemas.SessionError{Err: fmt.Errorf("no session in mock mode")}
}
