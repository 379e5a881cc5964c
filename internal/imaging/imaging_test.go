package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, img image.Image, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	default:
		t.Fatalf("unknown format %s", format)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDecodeAcceptsPNGAndJPEG(t *testing.T) {
	decoder := NewDecoder(16<<20, 4096)
	img := solidImage(8, 6, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	for _, format := range []string{"png", "jpeg"} {
		frame, err := decoder.Decode(encode(t, img, format))
		require.NoError(t, err, format)
		assert.Equal(t, 8, frame.Width)
		assert.Equal(t, 6, frame.Height)
	}
}

func TestDecodePreservesPixels(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	frame, err := NewDecoder(0, 0).Decode(encode(t, img, "png"))
	require.NoError(t, err)

	r, g, b := frame.RGB(2, 2)
	assert.Equal(t, uint8(200), r)
	assert.Equal(t, uint8(100), g)
	assert.Equal(t, uint8(50), b)
	assert.InDelta(t, 0.299*200+0.587*100+0.114*50, frame.Luminance(2, 2), 1e-9)
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	_, err := NewDecoder(16<<20, 4096).Decode(nil)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := NewDecoder(16<<20, 4096).Decode([]byte("not an image at all"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	img := solidImage(32, 32, color.RGBA{A: 255})
	data := encode(t, img, "png")

	_, err := NewDecoder(int64(len(data)-1), 4096).Decode(data)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDecodeRejectsOversizedDimensions(t *testing.T) {
	img := solidImage(64, 8, color.RGBA{A: 255})

	_, err := NewDecoder(16<<20, 32).Decode(encode(t, img, "png"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

// pngHeaderOnly builds a PNG holding just the signature and an IHDR chunk
// declaring the given dimensions, with no pixel data at all.
func pngHeaderOnly(t *testing.T, w, h uint32) []byte {
	t.Helper()

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale

	var buf bytes.Buffer
	buf.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], 13)
	buf.Write(length[:])
	buf.WriteString("IHDR")
	buf.Write(ihdr)

	crc := crc32.NewIEEE()
	crc.Write([]byte("IHDR"))
	crc.Write(ihdr)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
	return buf.Bytes()
}

// A tiny payload declaring enormous dimensions must be rejected from the
// header alone. The payload carries no pixel data, so reaching the pixel
// decoder would produce a decode failure instead of the dimension error.
func TestDecodeRejectsHugeDimensionsBeforePixelDecode(t *testing.T) {
	data := pngHeaderOnly(t, 12000, 12000)
	require.Less(t, len(data), 1024)

	_, err := NewDecoder(16<<20, 4096).Decode(data)
	require.ErrorIs(t, err, ErrInvalidImage)
	assert.Contains(t, err.Error(), "exceeds max side")
}

func TestRenderOverlayMarksMaskRed(t *testing.T) {
	frame := FrameFromImage(solidImage(16, 16, color.RGBA{R: 90, G: 90, B: 90, A: 255}))
	mask := make([]bool, 16*16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 8; x++ {
			mask[y*16+x] = true // left half
		}
	}

	data, err := RenderOverlay(frame, mask)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	r, g, b, _ := decoded.At(3, 8).RGBA()
	assert.Greater(t, r>>8, uint32(180), "masked pixel is red")
	assert.Less(t, g>>8, uint32(120))
	assert.Less(t, b>>8, uint32(120))

	r, _, _, _ = decoded.At(13, 8).RGBA()
	assert.Less(t, r>>8, uint32(140), "unmasked pixel keeps its color")
}

func TestRenderOverlayRejectsMismatchedMask(t *testing.T) {
	frame := FrameFromImage(solidImage(4, 4, color.RGBA{A: 255}))
	_, err := RenderOverlay(frame, make([]bool, 3))
	assert.Error(t, err)
}

func TestEncodePNGRoundTrips(t *testing.T) {
	frame := FrameFromImage(solidImage(5, 7, color.RGBA{R: 1, G: 2, B: 3, A: 255}))

	data, err := EncodePNG(frame)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 5, decoded.Bounds().Dx())
	assert.Equal(t, 7, decoded.Bounds().Dy())
}
