package segmentation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sidecar(t *testing.T, modelLoaded bool, masks []remoteMask) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sidecarHealth{Status: "ok", ModelLoaded: modelLoaded})
	})
	mux.HandleFunc("/segment", func(w http.ResponseWriter, r *http.Request) {
		var req segmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(segmentResponse{Masks: masks})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func encodeBitmask(w, h int, fill func(x, y int) bool) string {
	raw := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if fill(x, y) {
				raw[y*w+x] = 1
			}
		}
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestRemoteBuildWaitsForSidecarModel(t *testing.T) {
	notLoaded := sidecar(t, false, nil)
	remote := NewRemoteSegmenter(notLoaded.URL, zap.NewNop())
	_, err := remote.Build(context.Background())
	assert.Error(t, err)

	loaded := sidecar(t, true, nil)
	remote = NewRemoteSegmenter(loaded.URL, zap.NewNop())
	seg, err := remote.Build(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, seg)
}

func TestRemoteSegmentDecodesMasks(t *testing.T) {
	frame := grayFrame(8, 8, 150)
	server := sidecar(t, true, []remoteMask{
		{
			Width: 8, Height: 8, Score: 0.4,
			Mask: encodeBitmask(8, 8, func(x, y int) bool { return x == 0 }),
		},
		{
			Width: 8, Height: 8, Score: 0.92,
			Mask: encodeBitmask(8, 8, func(x, y int) bool { return x < 2 && y < 2 }),
		},
	})

	masks, err := NewRemoteSegmenter(server.URL, zap.NewNop()).Segment(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, masks, 2)

	// Ordered by descending score regardless of sidecar order.
	assert.Equal(t, 0.92, masks[0].Score)
	assert.Equal(t, 4, masks[0].Area())
	assert.True(t, masks[0].At(1, 1))
	assert.Equal(t, 0.4, masks[1].Score)
	assert.Equal(t, 8, masks[1].Area())
}

func TestRemoteSegmentEmptyResultIsNotAnError(t *testing.T) {
	frame := grayFrame(8, 8, 150)
	server := sidecar(t, true, nil)

	masks, err := NewRemoteSegmenter(server.URL, zap.NewNop()).Segment(context.Background(), frame)
	require.NoError(t, err)
	assert.Empty(t, masks)
}

func TestRemoteSegmentRejectsMalformedMasks(t *testing.T) {
	frame := grayFrame(8, 8, 150)

	tests := []struct {
		name string
		mask remoteMask
	}{
		{"wrong dimensions", remoteMask{Width: 4, Height: 4, Score: 0.9,
			Mask: encodeBitmask(4, 4, func(x, y int) bool { return true })}},
		{"truncated bitmap", remoteMask{Width: 8, Height: 8, Score: 0.9,
			Mask: base64.StdEncoding.EncodeToString(make([]byte, 10))}},
		{"score out of range", remoteMask{Width: 8, Height: 8, Score: 1.5,
			Mask: encodeBitmask(8, 8, func(x, y int) bool { return false })}},
		{"bad base64", remoteMask{Width: 8, Height: 8, Score: 0.9, Mask: "!!!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := sidecar(t, true, []remoteMask{tt.mask})
			_, err := NewRemoteSegmenter(server.URL, zap.NewNop()).Segment(context.Background(), frame)
			assert.Error(t, err)
		})
	}
}

func TestRemoteSegmentSidecarFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	frame := grayFrame(8, 8, 150)
	_, err := NewRemoteSegmenter(server.URL, zap.NewNop()).Segment(context.Background(), frame)
	assert.Error(t, err)
}
