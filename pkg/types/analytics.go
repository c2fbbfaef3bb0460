package types

import "time"

// EntityType is one of the four dimensions the baseline/anomaly pipeline
// tracks behavior for (§3).
type EntityType string

const (
	EntityUser EntityType = "user"
	EntityHost EntityType = "host"
	EntityIP   EntityType = "ip"
	EntityApp  EntityType = "app"
)

// BaselineRow holds the historical mean/stddev of one metric for one
// entity in one hour-of-day x day-of-week cell (§3, §4.9).
type BaselineRow struct {
	EntityType   EntityType `json:"entity_type"`
	EntityID     string     `json:"entity_id"`
	MetricName   string     `json:"metric_name"`
	HourOfDay    int        `json:"hour_of_day"`    // 0-23
	DayOfWeek    int        `json:"day_of_week"`    // 0-6
	Mean         float64    `json:"mean"`
	StdDev       float64    `json:"stddev"`
	SampleCount  int        `json:"sample_count"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MinBaselineSamples is the default trust threshold (§3: "trusted" iff
// sample_count >= minSamples).
const MinBaselineSamples = 5

// IsTrusted reports whether this baseline has enough samples to be used
// for detection, per the configured minimum (defaults to MinBaselineSamples).
func (b BaselineRow) IsTrusted(minSamples int) bool {
	if minSamples <= 0 {
		minSamples = MinBaselineSamples
	}
	return b.SampleCount >= minSamples
}

// AnomalyType enumerates the detector's four anomaly classes (§4.10).
type AnomalyType string

const (
	AnomalySpike       AnomalyType = "spike"
	AnomalyDrop        AnomalyType = "drop"
	AnomalyTimeOfDay   AnomalyType = "time_anomaly"
	AnomalyNewBehavior AnomalyType = "new_behavior"
)

// Severity buckets an anomaly's risk score (§4.10).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DetermineSeverity maps a 0-100 risk score to its bucket, with the exact
// boundary behavior §8 tests against (39/40, 59/60, 79/80).
func DetermineSeverity(riskScore float64) Severity {
	switch {
	case riskScore < 40:
		return SeverityLow
	case riskScore < 60:
		return SeverityMedium
	case riskScore < 80:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// AnomalyRow is one detected anomaly (§3).
type AnomalyRow struct {
	ID              string      `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	EntityType      EntityType  `json:"entity_type"`
	EntityID        string      `json:"entity_id"`
	AnomalyType     AnomalyType `json:"anomaly_type"`
	MetricName      string      `json:"metric_name"`
	Observed        float64     `json:"observed"`
	Expected        float64     `json:"expected"`
	DeviationScore  float64     `json:"deviation_score"`
	RiskScore       float64     `json:"risk_score"` // 0-100
	Severity        Severity    `json:"severity"`
	RelatedLogs     []string    `json:"related_logs,omitempty"`
	Context         map[string]string `json:"context,omitempty"`
	IsFalsePositive bool        `json:"is_false_positive"`
	FeedbackAt      *time.Time  `json:"feedback_at,omitempty"`
}

// RelatedLogSnippetLimit and RelatedLogSnippetMaxChars bound the
// correlated-message evidence attached to an anomaly (§4.10).
const (
	RelatedLogSnippetLimit    = 10
	RelatedLogSnippetMaxChars = 500
)
