// Package fan prepares frames for the holographic LED fan and delivers
// them over its HTTP upload API.
package fan

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/holoview/fan-gateway/internal/render"
	"github.com/rs/zerolog"
)

// ConversionError indicates a frame could not be normalized for the
// device. It is fatal only for the frame that produced it.
type ConversionError struct {
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("frame conversion: %s", e.Reason)
}

// Converter normalizes raw frames to the fan's resolution and applies
// display optimizations. Resampling uses Box (area averaging); the
// filter choice is fixed so golden-image tests stay reproducible.
type Converter struct {
	targetWidth  int
	targetHeight int
	logger       zerolog.Logger

	// Display optimization knobs, percent deltas applied before resize
	Brightness float64
	Contrast   float64

	framesProcessed int
}

// NewConverter creates a converter for the given target resolution
func NewConverter(targetWidth, targetHeight int, logger zerolog.Logger) *Converter {
	return &Converter{
		targetWidth:  targetWidth,
		targetHeight: targetHeight,
		logger:       logger,
		Brightness:   10,
		Contrast:     5,
	}
}

// Convert resizes a frame to the target resolution. When source and
// target dimensions already match, the input bytes pass through
// untouched (as a copy, preserving frame ownership).
func (c *Converter) Convert(frame *render.Frame) (*render.Frame, error) {
	return c.ConvertTo(frame, c.targetWidth, c.targetHeight)
}

// ConvertTo resizes a frame to an explicit resolution
func (c *Converter) ConvertTo(frame *render.Frame, width, height int) (*render.Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, &ConversionError{Reason: fmt.Sprintf("invalid target dimensions %dx%d", width, height)}
	}
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return nil, &ConversionError{Reason: "malformed source frame"}
	}
	if len(frame.Pix) != frame.Width*frame.Height*4 {
		return nil, &ConversionError{Reason: fmt.Sprintf("pixel buffer size %d does not match %dx%d", len(frame.Pix), frame.Width, frame.Height)}
	}

	c.framesProcessed++

	if frame.Width == width && frame.Height == height {
		return frame.Clone(), nil
	}

	resized := imaging.Resize(frame.ToImage(), width, height, imaging.Box)
	return render.FromImage(resized), nil
}

// OptimizeForDisplay applies the full display pipeline: center square
// crop, brightness and contrast lift for the LED strip, then the
// resize to device resolution.
func (c *Converter) OptimizeForDisplay(frame *render.Frame) (*render.Frame, error) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return nil, &ConversionError{Reason: "malformed source frame"}
	}
	if len(frame.Pix) != frame.Width*frame.Height*4 {
		return nil, &ConversionError{Reason: fmt.Sprintf("pixel buffer size %d does not match %dx%d", len(frame.Pix), frame.Width, frame.Height)}
	}

	img := imaging.Clone(frame.ToImage())

	// Center crop to square so the circular display area is filled
	if frame.Width != frame.Height {
		side := frame.Width
		if frame.Height < side {
			side = frame.Height
		}
		img = imaging.CropCenter(img, side, side)
	}

	if c.Brightness != 0 {
		img = imaging.AdjustBrightness(img, c.Brightness)
	}
	if c.Contrast != 0 {
		img = imaging.AdjustContrast(img, c.Contrast)
	}

	resized := imaging.Resize(img, c.targetWidth, c.targetHeight, imaging.Box)
	c.framesProcessed++
	return render.FromImage(resized), nil
}

// DisplayConverter runs the full display optimization path as a
// per-frame conversion stage. The playback loop uses this so every
// animation frame gets the crop and brightness/contrast lift, not just
// the resize.
type DisplayConverter struct {
	c *Converter
}

// ForDisplay returns the converter's display-optimized conversion stage.
func (c *Converter) ForDisplay() *DisplayConverter {
	return &DisplayConverter{c: c}
}

// Convert applies the display optimization pipeline to one frame.
func (d *DisplayConverter) Convert(frame *render.Frame) (*render.Frame, error) {
	return d.c.OptimizeForDisplay(frame)
}

// ConvertBatch converts a slice of frames, skipping and logging any
// that fail. Returns the converted frames.
func (c *Converter) ConvertBatch(frames []*render.Frame) []*render.Frame {
	converted := make([]*render.Frame, 0, len(frames))
	for i, f := range frames {
		out, err := c.Convert(f)
		if err != nil {
			c.logger.Warn().Err(err).Int("index", i).Msg("Skipping frame in batch conversion")
			continue
		}
		converted = append(converted, out)
	}
	return converted
}

// FramesProcessed returns the number of frames handled
func (c *Converter) FramesProcessed() int {
	return c.framesProcessed
}

// TargetSize returns the configured device resolution
func (c *Converter) TargetSize() (int, int) {
	return c.targetWidth, c.targetHeight
}
