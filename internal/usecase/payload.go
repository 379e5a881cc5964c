package usecase

import (
	"time"

	"github.com/example/roadwatch/internal/repository"
)

// RecordPayload is the external shape of one detection, shared by the
// listing endpoint and the new_pothole broadcast event.
type RecordPayload struct {
	ID          uint     `json:"id"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Severity    string   `json:"severity"`
	Area        float64  `json:"area"`
	DepthMeters *float64 `json:"depth_meters"`
	Confidence  float64  `json:"confidence"`
	Timestamp   string   `json:"timestamp"`
	Status      string   `json:"status"`
}

// RecordPayloadOf maps a stored record to its external shape. An absent depth
// stays null; it is never coerced to zero.
func RecordPayloadOf(record *repository.Pothole) RecordPayload {
	return RecordPayload{
		ID:          record.ID,
		Latitude:    record.Latitude,
		Longitude:   record.Longitude,
		Severity:    record.Severity,
		Area:        record.AreaM2,
		DepthMeters: record.DepthMeters,
		Confidence:  record.Confidence,
		Timestamp:   record.CreatedAt.UTC().Format(time.RFC3339),
		Status:      record.Status,
	}
}
