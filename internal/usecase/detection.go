package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/roadwatch/internal/imaging"
	"github.com/example/roadwatch/internal/logging"
	"github.com/example/roadwatch/internal/measure"
	"github.com/example/roadwatch/internal/repository"
	"github.com/example/roadwatch/internal/segmentation"
	"github.com/example/roadwatch/internal/severity"
)

const cacheTTL = 5 * time.Minute

// RecordStore defines the persistence operations needed by the use case.
type RecordStore interface {
	Save(ctx context.Context, record *repository.Pothole) error
	List(ctx context.Context) ([]repository.Pothole, error)
	GetByID(ctx context.Context, id uint) (*repository.Pothole, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ArtifactStore persists annotated images and renders reports.
type ArtifactStore interface {
	SaveImage(filename string, data []byte) (string, error)
	RenderPDF(record *repository.Pothole) ([]byte, error)
}

// SegmenterSource hands out the shared model handle once it is ready.
type SegmenterSource interface {
	Segmenter() (segmentation.Segmenter, error)
	Ready() bool
}

// Publisher pushes an event to all connected viewers. Implementations must
// not block the caller on delivery.
type Publisher interface {
	Publish(event string, payload interface{})
}

// DetectRequest is one detection submission.
type DetectRequest struct {
	Image     []byte
	Latitude  float64
	Longitude float64
}

// DetectResult is the outcome of a completed run. Found=false means the
// image held no pothole above the acceptance threshold; Record and ImageURL
// are set only when Found is true.
type DetectResult struct {
	Found    bool
	Record   *repository.Pothole
	ImageURL string
}

// DetectionUseCase orchestrates the detection pipeline end to end: decode,
// segment, measure, classify, persist, broadcast.
type DetectionUseCase struct {
	decoder    *imaging.Decoder
	models     SegmenterSource
	estimator  *measure.Estimator
	thresholds severity.Thresholds
	acceptance float64
	store      RecordStore
	artifacts  ArtifactStore
	cache      Cache
	publisher  Publisher
	logger     *zap.Logger

	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Deps collects the collaborators of the detection use case.
type Deps struct {
	Decoder             *imaging.Decoder
	Models              SegmenterSource
	Estimator           *measure.Estimator
	Thresholds          severity.Thresholds
	AcceptanceThreshold float64
	Store               RecordStore
	Artifacts           ArtifactStore
	Cache               Cache // optional; nil disables caching
	Publisher           Publisher
	Logger              *zap.Logger
}

// NewDetectionUseCase constructs a new use case instance.
func NewDetectionUseCase(deps Deps) *DetectionUseCase {
	return &DetectionUseCase{
		decoder:        deps.Decoder,
		models:         deps.Models,
		estimator:      deps.Estimator,
		thresholds:     deps.Thresholds,
		acceptance:     deps.AcceptanceThreshold,
		store:          deps.Store,
		artifacts:      deps.Artifacts,
		cache:          deps.Cache,
		publisher:      deps.Publisher,
		logger:         deps.Logger.Named("detection_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Detect runs one detection. Exactly one record is created, or none: every
// failure before the store write leaves the listing untouched, and a
// broadcast failure after it never rolls the record back.
func (uc *DetectionUseCase) Detect(ctx context.Context, req DetectRequest) (*DetectResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.detect", requestID)

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	frame, err := uc.decoder.Decode(req.Image)
	if err != nil {
		opLogger.Info("rejected image payload", zap.Error(err))
		return nil, err
	}

	seg, err := uc.models.Segmenter()
	if err != nil {
		// Model still loading; retryable, not a caller error.
		return nil, err
	}

	masks, err := seg.Segment(ctx, frame)
	if err != nil {
		if ctxErr := timeoutError(ctx, err); ctxErr != nil {
			return nil, ctxErr
		}
		wrapped := logging.NewOperationError("usecase.segment", requestID, err)
		opLogger.Error("segmentation failed", zap.Error(wrapped))
		return nil, wrapped
	}

	mask := segmentation.Select(masks, uc.acceptance)
	if mask == nil {
		opLogger.Info("no detection", zap.Int("candidate_masks", len(masks)))
		return &DetectResult{Found: false}, nil
	}

	areaM2, depthM := uc.estimator.Estimate(frame, mask)
	level := uc.thresholds.Classify(areaM2, depthM, mask.Score)

	overlay, err := imaging.RenderOverlay(frame, mask.Bits)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.render_overlay", requestID, err)
		opLogger.Error("overlay rendering failed", zap.Error(wrapped))
		return nil, wrapped
	}
	filename, err := uc.artifacts.SaveImage(fmt.Sprintf("pothole_%s.jpg", requestID), overlay)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.save_artifact", requestID, fmt.Errorf("%w: %v", ErrPersistence, err))
		opLogger.Error("artifact write failed", zap.Error(wrapped))
		return nil, wrapped
	}

	if err := ctx.Err(); err != nil {
		// Out of time before the record exists; nothing was created.
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	record := &repository.Pothole{
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Severity:    string(level),
		AreaM2:      areaM2,
		DepthMeters: depthM,
		Confidence:  mask.Score,
		ImagePath:   filename,
		Status:      "reported",
		CreatedAt:   time.Now().UTC(),
	}
	if err := uc.store.Save(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.save_record", requestID, fmt.Errorf("%w: %v", ErrPersistence, err))
		opLogger.Error("failed to persist detection", zap.Error(wrapped))
		return nil, wrapped
	}

	uc.cacheRecord(ctx, requestID, record)
	uc.publisher.Publish("new_pothole", RecordPayloadOf(record))

	opLogger.Info("detection completed",
		zap.Uint("pothole_id", record.ID),
		zap.String("severity", record.Severity),
		zap.Float64("area_m2", record.AreaM2),
		zap.Float64("confidence", record.Confidence))

	return &DetectResult{
		Found:    true,
		Record:   record,
		ImageURL: "/image/" + filename,
	}, nil
}

// List returns all persisted detections, most recent first.
func (uc *DetectionUseCase) List(ctx context.Context) ([]repository.Pothole, error) {
	return uc.store.List(ctx)
}

// Get retrieves one detection, consulting the cache before the store.
func (uc *DetectionUseCase) Get(ctx context.Context, id uint) (*repository.Pothole, error) {
	if cached := uc.cachedRecord(ctx, id); cached != nil {
		return cached, nil
	}

	record, err := uc.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

// ExportPDF renders the report artifact for one detection.
func (uc *DetectionUseCase) ExportPDF(ctx context.Context, id uint) ([]byte, error) {
	record, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return uc.artifacts.RenderPDF(record)
}

func validateRequest(req DetectRequest) error {
	if len(req.Image) == 0 {
		return fmt.Errorf("%w: image payload required", ErrInvalidRequest)
	}
	// Comparisons with NaN are always false, so non-finite values must be
	// rejected explicitly; a persisted NaN would break JSON encoding of
	// every listing that contains it.
	if !isFinite(req.Latitude) || req.Latitude < -90 || req.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidRequest, req.Latitude)
	}
	if !isFinite(req.Longitude) || req.Longitude < -180 || req.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidRequest, req.Longitude)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func timeoutError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
}

func cacheKey(id uint) string {
	return fmt.Sprintf("pothole:%d", id)
}

func (uc *DetectionUseCase) cacheRecord(ctx context.Context, requestID string, record *repository.Pothole) {
	if uc.cache == nil {
		return
	}
	serialized, err := json.Marshal(record)
	if err != nil {
		uc.logger.Warn("failed to serialize record for cache", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.record", func() error {
		return uc.cache.Set(ctx, cacheKey(record.ID), string(serialized), cacheTTL)
	}); err != nil {
		// Cache is an accelerator; the record is already durable.
		uc.logger.Warn("failed to cache detection record", zap.Error(err))
	}
}

func (uc *DetectionUseCase) cachedRecord(ctx context.Context, id uint) *repository.Pothole {
	if uc.cache == nil {
		return nil
	}
	value, err := uc.withRedisGet(ctx, "", "cache.get.record", cacheKey(id))
	if err != nil {
		return nil
	}
	var record repository.Pothole
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		uc.logger.Warn("failed to decode cached record", zap.Uint("id", id), zap.Error(err))
		return nil
	}
	return &record
}
