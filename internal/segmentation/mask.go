package segmentation

import "image"

// Mask is a per-pixel candidate region over a frame, with the model's
// confidence score for it.
type Mask struct {
	Width  int
	Height int
	Bits   []bool // row-major, true = pixel belongs to the region
	Score  float64
}

// At reports whether the pixel at (x, y) belongs to the mask. Out-of-range
// coordinates are outside the mask.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// Area returns the number of pixels in the mask.
func (m *Mask) Area() int {
	count := 0
	for _, set := range m.Bits {
		if set {
			count++
		}
	}
	return count
}

// Bounds returns the tight bounding box of the mask's pixels, or the empty
// rectangle for an empty mask.
func (m *Mask) Bounds() image.Rectangle {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.Bits[y*m.Width+x] {
				continue
			}
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Select applies the acceptance policy to a confidence-ordered mask sequence:
// the highest-scoring mask wins if its score meets the threshold, with ties
// broken by position. A nil result means no detection.
func Select(masks []Mask, threshold float64) *Mask {
	best := -1
	for i := range masks {
		if masks[i].Score < threshold {
			continue
		}
		if best == -1 || masks[i].Score > masks[best].Score {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	return &masks[best]
}
