// File: internal/agent/verify.go
package agent

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
	"github.com/averell-dev/deskrover/internal/screen"
)

// sampleTarget is roughly how many pixels the heuristic inspects per frame
// pair; the stride adapts to the resolution.
const sampleTarget = 10000

// channelTolerance absorbs sub-perceptual rendering noise such as cursor
// blink antialiasing and JPEG-ish compositor jitter.
const channelTolerance = 10

// Verifier judges whether an action visibly changed the screen. The default
// judge is a local pixel sampler; the model judge is opt-in because it
// doubles inference traffic.
type Verifier struct {
	cfg    config.VerifyConfig
	judge  schemas.Decider
	logger *zap.Logger
}

// NewVerifier creates a verifier. judge may be nil when model-backed
// verification is disabled.
func NewVerifier(cfg config.VerifyConfig, judge schemas.Decider, logger *zap.Logger) *Verifier {
	return &Verifier{cfg: cfg, judge: judge, logger: logger.Named("verify")}
}

// Verify reports whether the after frame is consistent with the action
// having taken effect. A failed model judgment degrades to the pixel
// heuristic rather than failing the step.
func (v *Verifier) Verify(ctx context.Context, before, after *schemas.Frame, action schemas.Action) bool {
	if v.cfg.UseModel && v.judge != nil {
		changed, err := v.judge.Judge(ctx, before, after, action)
		if err == nil {
			return changed
		}
		v.logger.Warn("Model verification failed, using pixel heuristic", zap.Error(err))
	}
	return v.pixelDelta(before, after)
}

// pixelDelta samples both frames on a fixed grid and reports change when the
// differing-pixel ratio clears the configured threshold.
func (v *Verifier) pixelDelta(before, after *schemas.Frame) bool {
	imgBefore, err := screen.DecodeFrame(before)
	if err != nil {
		v.logger.Warn("Cannot decode before frame, assuming changed", zap.Error(err))
		return true
	}
	imgAfter, err := screen.DecodeFrame(after)
	if err != nil {
		v.logger.Warn("Cannot decode after frame, assuming changed", zap.Error(err))
		return true
	}

	// A geometry change is a change, full stop.
	if imgBefore.Bounds() != imgAfter.Bounds() {
		return true
	}

	ratio := sampledChangeRatio(imgBefore, imgAfter)
	changed := ratio > v.cfg.ChangeThreshold
	v.logger.Debug("Pixel delta computed",
		zap.Float64("ratio", ratio),
		zap.Float64("threshold", v.cfg.ChangeThreshold),
		zap.Bool("changed", changed))
	return changed
}

// sampledChangeRatio walks a stride grid over both images and returns the
// fraction of sampled pixels that differ beyond the channel tolerance.
func sampledChangeRatio(a, b image.Image) float64 {
	bounds := a.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0
	}

	stride := 1
	if total > sampleTarget {
		for stride*stride < total/sampleTarget {
			stride++
		}
	}

	samples, changed := 0, 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			samples++
			if pixelDiffers(a, b, x, y) {
				changed++
			}
		}
	}
	if samples == 0 {
		return 0
	}
	return float64(changed) / float64(samples)
}

// pixelDiffers compares one pixel channel-wise against the tolerance.
func pixelDiffers(a, b image.Image, x, y int) bool {
	ar, ag, ab, _ := a.At(x, y).RGBA()
	br, bg, bb, _ := b.At(x, y).RGBA()
	// RGBA returns 16-bit channels; scale the tolerance to match.
	const scale = 0x101
	tol := uint32(channelTolerance * scale)
	return absDiff(ar, br) > tol || absDiff(ag, bg) > tol || absDiff(ab, bb) > tol
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
