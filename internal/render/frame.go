package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// PixelFormat identifies the layout of a frame's pixel buffer
type PixelFormat int

const (
	// FormatRGBA is 8-bit-per-channel RGBA, row-major
	FormatRGBA PixelFormat = iota
)

// String returns the pixel format name
func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA:
		return "RGBA"
	default:
		return "UNKNOWN"
	}
}

// Frame is an owned raster buffer. A frame belongs to the pipeline
// stage that produced it until handed to the next stage and is never
// mutated after handoff; stages that retain one must Clone it first.
type Frame struct {
	Width  int
	Height int
	Format PixelFormat
	Pix    []byte
}

// NewFrame allocates a zeroed frame
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Format: FormatRGBA,
		Pix:    make([]byte, width*height*4),
	}
}

// FromImage copies an image into a new frame
func FromImage(img image.Image) *Frame {
	bounds := img.Bounds()
	frame := NewFrame(bounds.Dx(), bounds.Dy())

	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == bounds.Dx()*4 {
		copy(frame.Pix, rgba.Pix)
		return frame
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			frame.Pix[i] = byte(r >> 8)
			frame.Pix[i+1] = byte(g >> 8)
			frame.Pix[i+2] = byte(b >> 8)
			frame.Pix[i+3] = byte(a >> 8)
			i += 4
		}
	}
	return frame
}

// Clone returns an independent copy of the frame
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Format: f.Format, Pix: pix}
}

// ToImage wraps the frame's buffer as an image without copying. The
// returned image aliases the frame and must not outlive it.
func (f *Frame) ToImage() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// EncodePNG encodes the frame as PNG bytes for transport
func (f *Frame) EncodePNG() ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != f.Width*f.Height*4 {
		return nil, fmt.Errorf("cannot encode malformed frame %dx%d with %d pixel bytes", f.Width, f.Height, len(f.Pix))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, f.ToImage()); err != nil {
		return nil, fmt.Errorf("png encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
