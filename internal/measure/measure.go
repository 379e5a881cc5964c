// Package measure converts a selected mask into physical measurements. All
// functions are pure over the frame and mask; calibration constants are
// configuration.
package measure

import (
	"github.com/example/roadwatch/internal/imaging"
	"github.com/example/roadwatch/internal/segmentation"
)

// Calibration holds the pixel-to-world scaling and the depth heuristic
// constants.
type Calibration struct {
	// PixelsPerMeter converts pixel counts to square meters. With no camera
	// metadata available this is a fixed, approximate scalar.
	PixelsPerMeter float64
	// MinDepthM is the depth assigned at the contrast floor.
	MinDepthM float64
	// DepthGain scales normalized contrast into meters.
	DepthGain float64
	// MaxDepthM clamps the estimate to a plausible physical range.
	MaxDepthM float64
	// ContrastFloor is the minimum normalized interior-vs-rim contrast below
	// which no confident depth can be produced.
	ContrastFloor float64
}

// DefaultCalibration returns the stock constants for an uncalibrated camera.
func DefaultCalibration() Calibration {
	return Calibration{
		PixelsPerMeter: 100,
		MinDepthM:      0.05,
		DepthGain:      0.5,
		MaxDepthM:      0.55,
		ContrastFloor:  0.04,
	}
}

// Estimator derives area and depth from a frame and mask.
type Estimator struct {
	cal Calibration
}

// NewEstimator builds an estimator with the given calibration.
func NewEstimator(cal Calibration) *Estimator {
	return &Estimator{cal: cal}
}

// Estimate returns the mask's real-world area in m2 and a depth estimate in
// meters. Depth is nil when the masked region lacks the contrast to support
// an estimate; callers must render that as unknown, not zero.
func (e *Estimator) Estimate(frame *imaging.Frame, mask *segmentation.Mask) (areaM2 float64, depthM *float64) {
	areaM2 = float64(mask.Area()) / (e.cal.PixelsPerMeter * e.cal.PixelsPerMeter)
	depthM = e.estimateDepth(frame, mask)
	return areaM2, depthM
}

// estimateDepth compares the mean luminance inside the mask against a thin
// rim of surrounding pavement. A darker interior relative to the rim implies
// a deeper hole; insufficient contrast yields no estimate.
func (e *Estimator) estimateDepth(frame *imaging.Frame, mask *segmentation.Mask) *float64 {
	interiorMean, interiorCount := maskedMean(frame, mask)
	rimMean, rimCount := rimMean(frame, mask)
	if interiorCount == 0 || rimCount == 0 {
		return nil
	}

	contrast := (rimMean - interiorMean) / 255
	if contrast < e.cal.ContrastFloor {
		return nil
	}

	depth := e.cal.MinDepthM + contrast*e.cal.DepthGain
	if depth > e.cal.MaxDepthM {
		depth = e.cal.MaxDepthM
	}
	if depth < 0 {
		depth = 0
	}
	return &depth
}

func maskedMean(frame *imaging.Frame, mask *segmentation.Mask) (mean float64, count int) {
	var sum float64
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if mask.At(x, y) {
				sum += frame.Luminance(x, y)
				count++
			}
		}
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

// rimMean averages luminance over pixels within rimWidth of the mask but not
// inside it.
func rimMean(frame *imaging.Frame, mask *segmentation.Mask) (mean float64, count int) {
	const rimWidth = 2

	var sum float64
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if mask.At(x, y) || !nearMask(mask, x, y, rimWidth) {
				continue
			}
			sum += frame.Luminance(x, y)
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

func nearMask(mask *segmentation.Mask, x, y, radius int) bool {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if mask.At(x+dx, y+dy) {
				return true
			}
		}
	}
	return false
}
