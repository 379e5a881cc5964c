package segmentation

import (
	"context"
	"math"

	"github.com/example/roadwatch/internal/imaging"
)

// LocalSegmenter is the built-in fallback model: potholes read as dark
// regions against pavement, so it thresholds the frame below the global
// luminance and extracts connected components. It is deliberately simple and
// exists so a deployment without the sidecar still produces detections.
type LocalSegmenter struct {
	// MinAreaRatio drops components smaller than this fraction of the frame.
	MinAreaRatio float64
	// DarknessSigma sets the threshold at mean - sigma*stddev luminance.
	DarknessSigma float64
	// MaxMasks caps how many components are returned.
	MaxMasks int
}

// NewLocalSegmenter builds the fallback segmenter with its stock tuning.
func NewLocalSegmenter() *LocalSegmenter {
	return &LocalSegmenter{
		MinAreaRatio:  0.001,
		DarknessSigma: 0.75,
		MaxMasks:      4,
	}
}

// BuildLocal is a BuildFunc for the loader. The local model has no checkpoint
// to fetch, so it is ready immediately.
func BuildLocal(ctx context.Context) (Segmenter, error) {
	_ = ctx
	return NewLocalSegmenter(), nil
}

// Segment thresholds the frame and returns dark connected components as
// scored masks, ordered by descending score.
func (s *LocalSegmenter) Segment(ctx context.Context, frame *imaging.Frame) ([]Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := frame.Width, frame.Height
	lum := make([]float64, w*h)
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := frame.Luminance(x, y)
			lum[y*w+x] = v
			sum += v
		}
	}
	n := float64(w * h)
	mean := sum / n

	var variance float64
	for _, v := range lum {
		d := v - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / n)

	threshold := mean - s.DarknessSigma*stddev
	dark := make([]bool, w*h)
	for i, v := range lum {
		dark[i] = v < threshold
	}

	minArea := int(float64(w*h) * s.MinAreaRatio)
	visited := make([]bool, w*h)
	var masks []Mask
	for start := range dark {
		if !dark[start] || visited[start] {
			continue
		}
		component, componentMean := floodFill(dark, visited, lum, w, h, start)
		if area := countBits(component); area >= minArea {
			masks = append(masks, Mask{
				Width:  w,
				Height: h,
				Bits:   component,
				Score:  darknessScore(mean, componentMean),
			})
		}
	}

	sortMasks(masks)
	if s.MaxMasks > 0 && len(masks) > s.MaxMasks {
		masks = masks[:s.MaxMasks]
	}
	return masks, nil
}

// darknessScore maps the contrast between pavement and component to [0, 1]:
// a region as bright as the frame scores 0, a black region on bright
// pavement approaches 1.
func darknessScore(frameMean, componentMean float64) float64 {
	if frameMean <= 0 {
		return 0
	}
	score := (frameMean - componentMean) / frameMean
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// floodFill extracts the 4-connected component containing start and returns
// its bitmap together with the mean luminance over it.
func floodFill(dark, visited []bool, lum []float64, w, h, start int) ([]bool, float64) {
	component := make([]bool, w*h)
	queue := []int{start}
	visited[start] = true

	var sum float64
	count := 0
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		component[i] = true
		sum += lum[i]
		count++

		x, y := i%w, i/w
		neighbors := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
		for _, nb := range neighbors {
			nx, ny := nb[0], nb[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			next := ny*w + nx
			if visited[next] || !dark[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	return component, sum / float64(count)
}

func countBits(bits []bool) int {
	count := 0
	for _, set := range bits {
		if set {
			count++
		}
	}
	return count
}
