package usecase

import "context"

// MetricsSummary represents aggregated detection insights.
type MetricsSummary struct {
	TotalDetections   int64            `json:"total_detections"`
	BySeverity        map[string]int64 `json:"by_severity"`
	AverageConfidence float64          `json:"average_confidence"`
	AverageAreaM2     float64          `json:"average_area_m2"`
}

// GetMetricsSummary aggregates detection metrics from persisted records.
func (uc *DetectionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.store.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	return &MetricsSummary{
		TotalDetections:   aggregation.TotalCount,
		BySeverity:        aggregation.CountBySeverity,
		AverageConfidence: aggregation.AverageConfidence,
		AverageAreaM2:     aggregation.AverageAreaM2,
	}, nil
}
