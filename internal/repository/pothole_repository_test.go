package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/roadwatch/internal/logging"
)

func openTestDB(t *testing.T) *PotholeRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewPotholeRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return repo
}

func TestSaveAssignsMonotonicIDs(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	var lastID uint
	for i := 0; i < 3; i++ {
		record := &Pothole{Latitude: 1, Longitude: 2, Severity: "low", CreatedAt: time.Now().UTC()}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
		if record.ID <= lastID {
			t.Fatalf("expected id above %d, got %d", lastID, record.ID)
		}
		lastID = record.ID
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older := &Pothole{Severity: "low", CreatedAt: base.Add(-time.Hour)}
	newer := &Pothole{Severity: "medium", CreatedAt: base}
	// Same timestamp as newer; the higher id must win the tie.
	tied := &Pothole{Severity: "high", CreatedAt: base}
	for _, record := range []*Pothole{older, newer, tied} {
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].ID != tied.ID || records[1].ID != newer.ID || records[2].ID != older.ID {
		t.Fatalf("unexpected order: %d, %d, %d", records[0].ID, records[1].ID, records[2].ID)
	}
}

func TestGetByIDRoundTripsDepth(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	depth := 0.18
	saved := &Pothole{
		Latitude:    40.7128,
		Longitude:   -74.006,
		Severity:    "medium",
		AreaM2:      0.21,
		DepthMeters: &depth,
		Confidence:  0.87,
		ImagePath:   "pothole_x.jpg",
		Status:      "reported",
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Save(ctx, saved); err != nil {
		t.Fatalf("save: %v", err)
	}
	shallow := &Pothole{Severity: "low", Status: "reported", CreatedAt: time.Now().UTC()}
	if err := repo.Save(ctx, shallow); err != nil {
		t.Fatalf("save: %v", err)
	}

	record, err := repo.GetByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.DepthMeters == nil || *record.DepthMeters != depth {
		t.Fatalf("known depth must round-trip, got %v", record.DepthMeters)
	}
	if record.Severity != "medium" || record.ImagePath != "pothole_x.jpg" {
		t.Fatalf("unexpected record %+v", record)
	}

	record, err = repo.GetByID(ctx, shallow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.DepthMeters != nil {
		t.Fatalf("unknown depth must stay nil, got %v", *record.DepthMeters)
	}
}

func TestGetByIDUnknown(t *testing.T) {
	repo := openTestDB(t)

	if _, err := repo.GetByID(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAggregateMetricsCountsBySeverity(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	for _, record := range []*Pothole{
		{Severity: "low", Confidence: 0.8, AreaM2: 0.02, CreatedAt: time.Now().UTC()},
		{Severity: "low", Confidence: 0.6, AreaM2: 0.04, CreatedAt: time.Now().UTC()},
		{Severity: "high", Confidence: 1.0, AreaM2: 0.6, CreatedAt: time.Now().UTC()},
	} {
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	agg, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCount != 3 {
		t.Fatalf("expected 3 records, got %d", agg.TotalCount)
	}
	if agg.CountBySeverity["low"] != 2 || agg.CountBySeverity["high"] != 1 {
		t.Fatalf("unexpected severity counts %v", agg.CountBySeverity)
	}
	if agg.AverageConfidence < 0.79 || agg.AverageConfidence > 0.81 {
		t.Fatalf("expected average confidence 0.8, got %f", agg.AverageConfidence)
	}
}

func TestAggregateMetricsEmptyStore(t *testing.T) {
	repo := openTestDB(t)

	agg, err := repo.AggregateMetrics(context.Background())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCount != 0 || len(agg.CountBySeverity) != 0 {
		t.Fatalf("expected empty aggregation, got %+v", agg)
	}
	if agg.AverageConfidence != 0 || agg.AverageAreaM2 != 0 {
		t.Fatal("averages must stay zero with no records")
	}
}

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func testRepository(attempts int) *PotholeRepository {
	return &PotholeRepository{
		logger:         zap.NewNop(),
		retryAttempts:  attempts,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := testRepository(3)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryStopsOnPermanentError(t *testing.T) {
	repo := testRepository(3)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", func() error {
		attempts++
		return errors.New("constraint violation")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("permanent errors must not retry, got %d attempts", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation %q", opErr.Operation)
	}
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	repo := testRepository(3)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", func() error {
		attempts++
		return transientTestError{}
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryHonorsContext(t *testing.T) {
	repo := testRepository(5)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := repo.executeWithRetry(ctx, "test.operation", func() error {
		attempts++
		cancel()
		return transientTestError{}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"timeout interface", transientTestError{}, true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientError(tt.err); got != tt.want {
				t.Fatalf("isTransientError(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}
