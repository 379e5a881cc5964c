package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/roadwatch/internal/logging"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("pothole not found")

// Pothole is the durable detection record. Records are append-only: there is
// no update path after creation.
type Pothole struct {
	ID          uint      `gorm:"primaryKey"`
	Latitude    float64   `gorm:"column:latitude;not null"`
	Longitude   float64   `gorm:"column:longitude;not null"`
	Severity    string    `gorm:"column:severity;size:16"`
	AreaM2      float64   `gorm:"column:area_m2"`
	DepthMeters *float64  `gorm:"column:depth_meters"`
	Confidence  float64   `gorm:"column:confidence"`
	ImagePath   string    `gorm:"column:image_path;size:255"`
	Status      string    `gorm:"column:status;size:32;default:reported"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (Pothole) TableName() string {
	return "potholes"
}

// MetricsAggregation carries the aggregate values computed in the store.
type MetricsAggregation struct {
	TotalCount        int64
	CountBySeverity   map[string]int64
	AverageConfidence float64
	AverageAreaM2     float64
}

// PotholeRepository provides persistence for detection records.
type PotholeRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPotholeRepository creates a new repository instance.
func NewPotholeRepository(db *gorm.DB, logger *zap.Logger) *PotholeRepository {
	return &PotholeRepository{
		db:             db,
		logger:         logger.Named("pothole_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PotholeRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Pothole{})
}

// Save persists a new record. The database assigns the monotonic id; the
// assignment is the serialization point for concurrent detections.
func (r *PotholeRepository) Save(ctx context.Context, record *Pothole) error {
	return r.executeWithRetry(ctx, "repository.save_pothole", func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// List returns all records, most recent first.
func (r *PotholeRepository) List(ctx context.Context) ([]Pothole, error) {
	var records []Pothole
	err := r.executeWithRetry(ctx, "repository.list_potholes", func() error {
		return r.db.WithContext(ctx).
			Order("created_at DESC").
			Order("id DESC").
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetByID retrieves one record or ErrNotFound.
func (r *PotholeRepository) GetByID(ctx context.Context, id uint) (*Pothole, error) {
	var record Pothole
	err := r.executeWithRetry(ctx, "repository.get_pothole", func() error {
		return r.db.WithContext(ctx).First(&record, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// AggregateMetrics computes summary statistics over all records.
func (r *PotholeRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	agg := &MetricsAggregation{CountBySeverity: make(map[string]int64)}

	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", func() error {
		type row struct {
			Severity string
			Count    int64
		}
		var rows []row
		if err := r.db.WithContext(ctx).Model(&Pothole{}).
			Select("severity, count(*) as count").
			Group("severity").
			Scan(&rows).Error; err != nil {
			return err
		}

		agg.TotalCount = 0
		for k := range agg.CountBySeverity {
			delete(agg.CountBySeverity, k)
		}
		for _, grouped := range rows {
			agg.CountBySeverity[grouped.Severity] = grouped.Count
			agg.TotalCount += grouped.Count
		}
		if agg.TotalCount == 0 {
			return nil
		}

		type averages struct {
			AvgConfidence float64
			AvgArea       float64
		}
		var avg averages
		if err := r.db.WithContext(ctx).Model(&Pothole{}).
			Select("avg(confidence) as avg_confidence, avg(area_m2) as avg_area").
			Scan(&avg).Error; err != nil {
			return err
		}
		agg.AverageConfidence = avg.AvgConfidence
		agg.AverageAreaM2 = avg.AvgArea
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// executeWithRetry runs fn, retrying transient failures with exponential
// backoff. Non-transient errors and exhausted attempts come back wrapped in
// an OperationError.
func (r *PotholeRepository) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, "", fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, "")
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			return logging.NewOperationError(operation, "", err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
