// Package imaging decodes uploaded photos into an immutable pixel buffer and
// renders annotated copies of them. It never touches the network or disk.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"
)

// ErrInvalidImage marks payloads that cannot become a Frame: empty bodies,
// unsupported encodings, or dimensions beyond the configured limits.
var ErrInvalidImage = errors.New("invalid image")

// Frame is a decoded image: an RGBA pixel buffer plus its dimensions.
// Frames are treated as read-only after Decode returns.
type Frame struct {
	Width  int
	Height int
	pix    []uint8 // RGBA, row-major
}

// Decoder validates and decodes raw uploads.
type Decoder struct {
	MaxBytes int64
	MaxSide  int
}

// NewDecoder builds a decoder with the given payload and dimension limits.
func NewDecoder(maxBytes int64, maxSide int) *Decoder {
	return &Decoder{MaxBytes: maxBytes, MaxSide: maxSide}
}

// Decode turns raw JPEG or PNG bytes into a Frame.
func (d *Decoder) Decode(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if d.MaxBytes > 0 && int64(len(data)) > d.MaxBytes {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrInvalidImage, len(data))
	}

	// Check the declared dimensions from the header before decoding pixels,
	// so a small compressed payload cannot force a huge allocation.
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	switch format {
	case "jpeg", "png":
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	if d.MaxSide > 0 && (cfg.Width > d.MaxSide || cfg.Height > d.MaxSide) {
		return nil, fmt.Errorf("%w: %dx%d exceeds max side %d", ErrInvalidImage, cfg.Width, cfg.Height, d.MaxSide)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	return FrameFromImage(img), nil
}

// FrameFromImage copies a decoded image into a Frame. Useful for callers that
// already hold an image.Image.
func FrameFromImage(img image.Image) *Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	f := &Frame{Width: w, Height: h, pix: make([]uint8, w*h*4)}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			f.pix[i] = uint8(r >> 8)
			f.pix[i+1] = uint8(g >> 8)
			f.pix[i+2] = uint8(b >> 8)
			f.pix[i+3] = uint8(a >> 8)
			i += 4
		}
	}
	return f
}

// RGB returns the color channels at (x, y).
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 4
	return f.pix[i], f.pix[i+1], f.pix[i+2]
}

// Luminance returns the perceived brightness at (x, y) in [0, 255].
func (f *Frame) Luminance(x, y int) float64 {
	r, g, b := f.RGB(x, y)
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}
