// Package segmentation wraps the pothole segmentation model behind a
// capability interface with an explicit readiness lifecycle. The model itself
// is a black box: given a frame it yields zero or more scored masks.
package segmentation

import (
	"context"
	"errors"

	"github.com/example/roadwatch/internal/imaging"
)

// ErrModelNotReady is returned while the model is still loading. It is a
// retryable condition, not a caller error.
var ErrModelNotReady = errors.New("segmentation model not ready")

// Segmenter produces candidate pothole masks for a frame, ordered by
// descending score. An empty result is a valid no-detection outcome.
// Implementations must be safe for concurrent use once constructed.
type Segmenter interface {
	Segment(ctx context.Context, frame *imaging.Frame) ([]Mask, error)
}
