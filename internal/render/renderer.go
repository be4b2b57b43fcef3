// Package render produces raster frames for the holographic fan. All
// drawing is deterministic: the same request always yields the same
// pixels, which keeps golden-frame tests stable and makes per-state
// frame caching safe.
package render

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"
	"github.com/holoview/fan-gateway/internal/viseme"
	"github.com/rs/zerolog"
	"golang.org/x/image/font/basicfont"
)

// RenderError indicates the drawing surface could not be acquired or
// used. This is fatal for the playback session; there is nothing to
// show without a renderer.
type RenderError struct {
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("renderer: %s", e.Reason)
}

// Request describes a single frame to draw
type Request struct {
	Text         string
	AngleDegrees float64
	MouthState   viseme.MouthState
}

// Renderer draws animation frames on an owned surface. It is not safe
// for concurrent use; the synchronizer's tick loop is its only caller.
type Renderer struct {
	width  int
	height int
	cache  map[cacheKey]*Frame
	logger zerolog.Logger

	frameCount int
}

type cacheKey struct {
	text  string
	angle int // degrees rounded to the nearest whole degree
	state viseme.MouthState
}

// Worst case one full rotation for each mouth state; beyond that the
// caption text has changed and old entries will never be hit again.
const maxCacheEntries = 1800

// NewRenderer creates a renderer with an owned drawing surface
func NewRenderer(width, height int, logger zerolog.Logger) (*Renderer, error) {
	if width <= 0 || height <= 0 {
		return nil, &RenderError{Reason: fmt.Sprintf("invalid surface size %dx%d", width, height)}
	}

	return &Renderer{
		width:  width,
		height: height,
		cache:  make(map[cacheKey]*Frame),
		logger: logger,
	}, nil
}

// mouthDrawFuncs dispatches mouth drawing by state. cx/cy is the mouth
// center, s a scale unit derived from the surface size.
var mouthDrawFuncs = map[viseme.MouthState]func(dc *gg.Context, cx, cy, s float64){
	viseme.Rest: func(dc *gg.Context, cx, cy, s float64) {
		dc.DrawLine(cx-s, cy, cx+s, cy)
		dc.SetLineWidth(s / 6)
		dc.Stroke()
	},
	viseme.Closed: func(dc *gg.Context, cx, cy, s float64) {
		dc.DrawLine(cx-s*1.2, cy, cx+s*1.2, cy)
		dc.SetLineWidth(s / 3)
		dc.Stroke()
	},
	viseme.OpenNarrow: func(dc *gg.Context, cx, cy, s float64) {
		dc.DrawEllipse(cx, cy, s, s/3)
		dc.Fill()
	},
	viseme.OpenWide: func(dc *gg.Context, cx, cy, s float64) {
		dc.DrawEllipse(cx, cy, s*1.1, s*0.8)
		dc.Fill()
	},
	viseme.Round: func(dc *gg.Context, cx, cy, s float64) {
		dc.DrawCircle(cx, cy, s*0.6)
		dc.Fill()
	},
}

// Render draws a single frame for the request. Results are cached per
// (text, rounded angle, mouth state); a cache hit returns a clone so
// the caller still owns its frame exclusively.
func (r *Renderer) Render(req Request) (*Frame, error) {
	if r == nil || r.cache == nil {
		return nil, &RenderError{Reason: "drawing surface not initialized"}
	}

	angle := normalizeAngle(req.AngleDegrees)
	key := cacheKey{text: req.Text, angle: int(math.Round(angle)) % 360, state: req.MouthState}
	if cached, ok := r.cache[key]; ok {
		return cached.Clone(), nil
	}

	frame := r.draw(req.Text, angle, req.MouthState)
	if len(r.cache) >= maxCacheEntries {
		clear(r.cache)
	}
	r.cache[key] = frame
	r.frameCount++
	r.logger.Debug().
		Int("frame", r.frameCount).
		Float64("angle", angle).
		Str("mouth", req.MouthState.String()).
		Msg("Rendered frame")

	return frame.Clone(), nil
}

func (r *Renderer) draw(text string, angle float64, state viseme.MouthState) *Frame {
	dc := gg.NewContext(r.width, r.height)

	// Black background, the fan's off state
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	cx := float64(r.width) / 2
	cy := float64(r.height) / 2

	// The whole scene rotates about the center to mimic the fan's spin
	dc.RotateAbout(gg.Radians(angle), cx, cy)

	// Face outline
	faceRadius := float64(min(r.width, r.height)) * 0.35
	dc.SetRGB(0, 1, 1)
	dc.SetLineWidth(2)
	dc.DrawCircle(cx, cy, faceRadius)
	dc.Stroke()

	// Eyes
	eyeOffset := faceRadius * 0.4
	eyeRadius := faceRadius * 0.08
	dc.DrawCircle(cx-eyeOffset, cy-eyeOffset, eyeRadius)
	dc.DrawCircle(cx+eyeOffset, cy-eyeOffset, eyeRadius)
	dc.Fill()

	// Mouth, dispatched by state
	drawMouth := mouthDrawFuncs[state]
	if drawMouth == nil {
		drawMouth = mouthDrawFuncs[viseme.Rest]
	}
	drawMouth(dc, cx, cy+faceRadius*0.45, faceRadius*0.3)

	// Caption under the face, fixed bitmap font for determinism
	dc.SetFontFace(basicfont.Face7x13)
	dc.DrawStringAnchored(text, cx, cy+faceRadius*1.25, 0.5, 0.5)

	return FromImage(dc.Image())
}

// FrameCount returns the number of frames drawn (cache misses only)
func (r *Renderer) FrameCount() int {
	return r.frameCount
}

// Size returns the surface dimensions
func (r *Renderer) Size() (int, int) {
	return r.width, r.height
}

func normalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
