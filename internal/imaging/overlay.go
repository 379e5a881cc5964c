package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// RenderOverlay paints the masked pixels red on a copy of the frame and
// returns it encoded as JPEG. The mask is a row-major bitmap matching the
// frame's dimensions.
func RenderOverlay(f *Frame, mask []bool) ([]byte, error) {
	if len(mask) != f.Width*f.Height {
		return nil, fmt.Errorf("mask size %d does not match %dx%d frame", len(mask), f.Width, f.Height)
	}

	out := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			if mask[y*f.Width+x] {
				out.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
				continue
			}
			r, g, b := f.RGB(x, y)
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG re-encodes a frame losslessly, used when shipping pixels to the
// segmentation sidecar.
func EncodePNG(f *Frame) ([]byte, error) {
	out := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	copy(out.Pix, f.pix)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
