package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/roadwatch/internal/artifact"
	"github.com/example/roadwatch/internal/imaging"
	"github.com/example/roadwatch/internal/repository"
	"github.com/example/roadwatch/internal/segmentation"
	"github.com/example/roadwatch/internal/usecase"
)

// DetectionService is the slice of the use case the HTTP layer needs.
type DetectionService interface {
	Detect(ctx context.Context, req usecase.DetectRequest) (*usecase.DetectResult, error)
	List(ctx context.Context) ([]repository.Pothole, error)
	Get(ctx context.Context, id uint) (*repository.Pothole, error)
	ExportPDF(ctx context.Context, id uint) ([]byte, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// ReadinessReporter exposes the model lifecycle state for /health.
type ReadinessReporter interface {
	Ready() bool
}

// ArtifactResolver maps stored artifact filenames to paths for /image.
type ArtifactResolver interface {
	ImagePath(filename string) (string, error)
}

// Viewer accepts websocket connections for the push channel.
type Viewer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Options bundles the route collaborators and limits.
type Options struct {
	Service       DetectionService
	Models        ReadinessReporter
	Artifacts     ArtifactResolver
	Hub           Viewer
	MaxUploadSize int64
	DetectTimeout time.Duration
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, opts Options) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"sam_loaded": opts.Models.Ready(),
		})
	})

	router.POST("/detect", func(c *gin.Context) { handleDetect(c, opts) })

	router.GET("/potholes", func(c *gin.Context) {
		records, err := opts.Service.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list detections", "kind": "persistence"})
			return
		}
		payloads := make([]usecase.RecordPayload, 0, len(records))
		for i := range records {
			payloads = append(payloads, usecase.RecordPayloadOf(&records[i]))
		}
		c.JSON(http.StatusOK, payloads)
	})

	router.GET("/potholes/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		record, err := opts.Service.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, usecase.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "pothole not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load detection", "kind": "persistence"})
			return
		}
		c.JSON(http.StatusOK, usecase.RecordPayloadOf(record))
	})

	router.GET("/export/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		report, err := opts.Service.ExportPDF(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, usecase.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "pothole not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render report", "kind": "internal"})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="pothole_report_%d.pdf"`, id))
		c.Data(http.StatusOK, "application/pdf", report)
	})

	router.GET("/image/:filename", func(c *gin.Context) {
		path, err := opts.Artifacts.ImagePath(c.Param("filename"))
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load image", "kind": "internal"})
			return
		}
		c.File(path)
	})

	router.GET("/metrics", func(c *gin.Context) {
		summary, err := opts.Service.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics", "kind": "persistence"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	router.GET("/ws", func(c *gin.Context) {
		opts.Hub.ServeWS(c.Writer, c.Request)
	})
}

func handleDetect(c *gin.Context, opts Options) {
	latitude, ok := parseCoordinate(c, "latitude")
	if !ok {
		return
	}
	longitude, ok := parseCoordinate(c, "longitude")
	if !ok {
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required", "kind": "invalid_request"})
		return
	}
	if opts.MaxUploadSize > 0 && file.Size > opts.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit", "kind": "invalid_request"})
		return
	}
	if !isImageContentType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type", "kind": "invalid_image"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image", "kind": "invalid_request"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image", "kind": "internal"})
		return
	}

	ctx := c.Request.Context()
	if opts.DetectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DetectTimeout)
		defer cancel()
	}

	result, err := opts.Service.Detect(ctx, usecase.DetectRequest{
		Image:     data,
		Latitude:  latitude,
		Longitude: longitude,
	})
	if err != nil {
		status, kind := classifyDetectError(err)
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}

	if !result.Found {
		c.JSON(http.StatusOK, gin.H{"success": false})
		return
	}

	record := result.Record
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"pothole_id":   record.ID,
		"severity":     record.Severity,
		"area_m2":      record.AreaM2,
		"depth_meters": record.DepthMeters,
		"confidence":   record.Confidence,
		"image_url":    result.ImageURL,
	})
}

// classifyDetectError maps the pipeline's failure kinds onto HTTP statuses.
// Model unreadiness is 503 so clients retry instead of concluding the road
// is clean.
func classifyDetectError(err error) (int, string) {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, imaging.ErrInvalidImage):
		return http.StatusBadRequest, "invalid_image"
	case errors.Is(err, segmentation.ErrModelNotReady):
		return http.StatusServiceUnavailable, "model_not_ready"
	case errors.Is(err, usecase.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, usecase.ErrPersistence):
		return http.StatusInternalServerError, "persistence"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func parseCoordinate(c *gin.Context, field string) (float64, bool) {
	raw := c.PostForm(field)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " is required", "kind": "invalid_request"})
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " must be a number", "kind": "invalid_request"})
		return 0, false
	}
	return value, true
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "kind": "invalid_request"})
		return 0, false
	}
	return uint(id), true
}

func isImageContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(parsed, "image/")
}
