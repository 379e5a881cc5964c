// Package severity maps measurements to a coarse danger tier.
package severity

// Level is a pothole danger classification.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Thresholds holds the classification bands. They are configuration, not
// behavior to tune per request.
type Thresholds struct {
	// LowAreaM2 is the upper bound of the low band.
	LowAreaM2 float64
	// HighAreaM2 is the lower bound of the high band.
	HighAreaM2 float64
	// DangerDepthM escalates the tier by one when a known depth exceeds it.
	DangerDepthM float64
}

// DefaultThresholds returns the stock classification bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowAreaM2:    0.1,
		HighAreaM2:   0.3,
		DangerDepthM: 0.3,
	}
}

// Classify is a pure, total function from measurements to a tier. The area
// picks the band; a known depth past the danger threshold escalates one tier.
// Confidence is carried on the record but does not change the tier.
func (t Thresholds) Classify(areaM2 float64, depthM *float64, confidence float64) Level {
	_ = confidence

	level := Low
	switch {
	case areaM2 >= t.HighAreaM2:
		level = High
	case areaM2 >= t.LowAreaM2:
		level = Medium
	}

	if depthM != nil && *depthM > t.DangerDepthM {
		level = escalate(level)
	}
	return level
}

func escalate(level Level) Level {
	switch level {
	case Low:
		return Medium
	case Medium:
		return High
	default:
		return High
	}
}
