// File: internal/screen/capture.go
package screen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/google/uuid"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
)

// DisplayCount reports how many displays are attached.
func DisplayCount() int {
	return screenshot.NumActiveDisplays()
}

// Grabber captures full-display screenshots and packages them as frames for
// the decision loop. Implements schemas.Capturer.
type Grabber struct {
	logger *zap.Logger
}

// NewGrabber creates a display capturer.
func NewGrabber(logger *zap.Logger) *Grabber {
	return &Grabber{logger: logger.Named("screen")}
}

// Capture grabs the given display and returns a PNG-encoded frame. The
// context is checked before the grab; the grab itself is a synchronous
// OS call and cannot be interrupted midway.
func (g *Grabber) Capture(ctx context.Context, display int) (*schemas.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, &schemas.CaptureError{Display: display, Err: err}
	}

	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, &schemas.CaptureError{Display: display, Err: fmt.Errorf("no active displays")}
	}
	if display < 0 || display >= n {
		return nil, &schemas.CaptureError{Display: display, Err: fmt.Errorf("display out of range, %d available", n)}
	}

	bounds := screenshot.GetDisplayBounds(display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, &schemas.CaptureError{Display: display, Err: err}
	}

	frame, err := EncodeFrame(img)
	if err != nil {
		return nil, &schemas.CaptureError{Display: display, Err: err}
	}

	g.logger.Debug("Frame captured",
		zap.String("frame_id", frame.ID),
		zap.Int("display", display),
		zap.Int("width", frame.Width),
		zap.Int("height", frame.Height),
		zap.Int("png_bytes", len(frame.PNG)))
	return frame, nil
}

// EncodeFrame wraps a raster image into a frame descriptor with a fresh id.
func EncodeFrame(img image.Image) (*schemas.Frame, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	bounds := img.Bounds()
	return &schemas.Frame{
		ID:         uuid.NewString(),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: time.Now(),
		PNG:        buf.Bytes(),
	}, nil
}

// DecodeFrame parses a frame's PNG payload back into a raster image for
// pixel-level comparison.
func DecodeFrame(frame *schemas.Frame) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(frame.PNG))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", frame.ID, err)
	}
	return img, nil
}
