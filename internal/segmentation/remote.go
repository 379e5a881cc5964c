package segmentation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/roadwatch/internal/imaging"
	"github.com/example/roadwatch/internal/logging"
)

// RemoteSegmenter calls a segmentation sidecar over HTTP. The sidecar owns
// the model checkpoint; this client only ships pixels and reads masks back.
type RemoteSegmenter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type segmentRequest struct {
	Image string `json:"image"` // base64 PNG
}

type segmentResponse struct {
	Masks []remoteMask `json:"masks"`
}

type remoteMask struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Mask   string  `json:"mask"` // base64, one byte per pixel, nonzero = member
	Score  float64 `json:"score"`
}

type sidecarHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewRemoteSegmenter creates a client for the sidecar at baseURL.
func NewRemoteSegmenter(baseURL string, logger *zap.Logger) *RemoteSegmenter {
	return &RemoteSegmenter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger.Named("remote_segmenter"),
	}
}

// Build is a BuildFunc: it probes the sidecar's health endpoint and hands the
// client out as the process-wide segmenter once the sidecar reports its model
// loaded.
func (r *RemoteSegmenter) Build(ctx context.Context) (Segmenter, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return nil, logging.NewOperationError("segmentation.sidecar_health", "", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, logging.NewOperationError("segmentation.sidecar_health", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, logging.NewOperationError("segmentation.sidecar_health", "",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var health sidecarHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, logging.NewOperationError("segmentation.sidecar_health", "", err)
	}
	if !health.ModelLoaded {
		return nil, fmt.Errorf("sidecar model still loading")
	}
	return r, nil
}

// Segment ships the frame to the sidecar and decodes the returned masks.
func (r *RemoteSegmenter) Segment(ctx context.Context, frame *imaging.Frame) ([]Mask, error) {
	encoded, err := imaging.EncodePNG(frame)
	if err != nil {
		return nil, logging.NewOperationError("segmentation.encode_frame", "", err)
	}

	body, err := json.Marshal(segmentRequest{Image: base64.StdEncoding.EncodeToString(encoded)})
	if err != nil {
		return nil, logging.NewOperationError("segmentation.marshal_request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/segment", bytes.NewReader(body))
	if err != nil {
		return nil, logging.NewOperationError("segmentation.segment_request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("segmentation.segment_call", "", err)
		r.logger.Error("sidecar call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, logging.NewOperationError("segmentation.segment_call", "",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var decoded segmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, logging.NewOperationError("segmentation.decode_response", "", err)
	}

	masks := make([]Mask, 0, len(decoded.Masks))
	for i, rm := range decoded.Masks {
		mask, err := rm.toMask(frame)
		if err != nil {
			return nil, logging.NewOperationError("segmentation.decode_mask", "",
				fmt.Errorf("mask %d: %w", i, err))
		}
		masks = append(masks, mask)
	}
	sortMasks(masks)
	return masks, nil
}

func (rm *remoteMask) toMask(frame *imaging.Frame) (Mask, error) {
	raw, err := base64.StdEncoding.DecodeString(rm.Mask)
	if err != nil {
		return Mask{}, err
	}
	w, h := rm.Width, rm.Height
	if w == 0 && h == 0 {
		w, h = frame.Width, frame.Height
	}
	if w != frame.Width || h != frame.Height {
		return Mask{}, fmt.Errorf("mask is %dx%d, frame is %dx%d", w, h, frame.Width, frame.Height)
	}
	if len(raw) != w*h {
		return Mask{}, fmt.Errorf("mask has %d bytes for %dx%d", len(raw), w, h)
	}
	if rm.Score < 0 || rm.Score > 1 {
		return Mask{}, fmt.Errorf("score %f out of range", rm.Score)
	}

	bits := make([]bool, len(raw))
	for i, b := range raw {
		bits[i] = b != 0
	}
	return Mask{Width: w, Height: h, Bits: bits, Score: rm.Score}, nil
}

func sortMasks(masks []Mask) {
	// Stable insertion keeps the sidecar's order for equal scores.
	for i := 1; i < len(masks); i++ {
		for j := i; j > 0 && masks[j].Score > masks[j-1].Score; j-- {
			masks[j], masks[j-1] = masks[j-1], masks[j]
		}
	}
}
