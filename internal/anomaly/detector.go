// Package anomaly implements the periodic spike/drop/time-of-day/new-
// behavior detector that runs on top of the baseline calculator
// (spec.md §4.10).
package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/internal/baseline"
	"github.com/taskmasterpeace/lognog/internal/dsl"
	"github.com/taskmasterpeace/lognog/internal/metrics"
	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

const (
	defaultSpikeThreshold   = 3.0
	defaultDropThreshold    = -3.0
	defaultOffHoursStart    = 22
	defaultOffHoursEnd      = 6
	defaultRelatedLogsLimit = types.RelatedLogSnippetLimit
)

// typeMult and entityMult are the fixed multiplier tables from spec.md
// §4.10's risk score formula.
var typeMult = map[types.AnomalyType]float64{
	types.AnomalySpike:       1.0,
	types.AnomalyDrop:        1.0,
	types.AnomalyTimeOfDay:   1.2,
	types.AnomalyNewBehavior: 0.6,
}

var entityMult = map[types.EntityType]float64{
	types.EntityUser: 1.2,
	types.EntityHost: 1.0,
	types.EntityIP:   1.1,
	types.EntityApp:  0.9,
}

// Detector runs one scan pass per tick: for every entity observed in
// the last hour, compare its current metric value against the
// baseline and emit anomalies past threshold.
type Detector struct {
	adapter  storage.Adapter
	baseline *baseline.Calculator
	logger   *logrus.Logger
	config   types.AnomalyConfig
}

func NewDetector(adapter storage.Adapter, calc *baseline.Calculator, logger *logrus.Logger, config types.AnomalyConfig) *Detector {
	if config.SpikeThreshold == 0 {
		config.SpikeThreshold = defaultSpikeThreshold
	}
	if config.DropThreshold == 0 {
		config.DropThreshold = defaultDropThreshold
	}
	if config.OffHoursStart == 0 && config.OffHoursEnd == 0 {
		config.OffHoursStart = defaultOffHoursStart
		config.OffHoursEnd = defaultOffHoursEnd
	}
	if config.RelatedLogsLimit <= 0 {
		config.RelatedLogsLimit = defaultRelatedLogsLimit
	}
	return &Detector{adapter: adapter, baseline: calc, logger: logger, config: config}
}

func (d *Detector) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT,
		timestamp TEXT,
		entity_type TEXT,
		entity_id TEXT,
		anomaly_type TEXT,
		metric_name TEXT,
		observed REAL,
		expected REAL,
		deviation_score REAL,
		risk_score REAL,
		severity TEXT,
		related_logs TEXT,
		is_false_positive INTEGER,
		feedback_at TEXT
	)`
	if d.adapter.Backend() == "clickhouse" {
		ddl = `CREATE TABLE IF NOT EXISTS anomalies (
			id String, timestamp String, entity_type String, entity_id String,
			anomaly_type String, metric_name String, observed Float64, expected Float64,
			deviation_score Float64, risk_score Float64, severity String,
			related_logs String, is_false_positive Int64, feedback_at String
		) ENGINE = ReplacingMergeTree ORDER BY id`
	}
	return d.adapter.ExecuteDDL(ctx, ddl)
}

// Scan runs one detection pass over index (spec.md §4.10: "periodic run,
// default every hour").
func (d *Detector) Scan(ctx context.Context, index string) error {
	start := time.Now()
	defer func() { metrics.AnomalyScanDuration.Observe(time.Since(start).Seconds()) }()

	now := time.Now()
	hourAgo := now.Add(-time.Hour)

	query := fmt.Sprintf(`SELECT timestamp, hostname, app_name, source_ip, severity, message
		FROM %q WHERE timestamp >= ?`, index)
	result, err := d.adapter.ExecuteQuery(ctx, query, []interface{}{hourAgo.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return fmt.Errorf("anomaly: scan %s: %w", index, err)
	}

	type observation struct {
		eventCount int
		errorCount int
		messages   []string
	}
	entities := make(map[[2]string]*observation) // [entityType, entityID] -> obs

	for _, row := range result.Rows {
		isError := rowInt(row, "severity") <= 3
		msg := rowString(row, "message")
		for entityType, entityID := range map[types.EntityType]string{
			types.EntityHost: rowString(row, "hostname"),
			types.EntityApp:  rowString(row, "app_name"),
			types.EntityIP:   rowString(row, "source_ip"),
		} {
			if entityID == "" {
				continue
			}
			k := [2]string{string(entityType), entityID}
			obs, ok := entities[k]
			if !ok {
				obs = &observation{}
				entities[k] = obs
			}
			obs.eventCount++
			if isError {
				obs.errorCount++
			}
			if len(obs.messages) < d.config.RelatedLogsLimit {
				obs.messages = append(obs.messages, truncateSnippet(msg))
			}
		}
	}

	for k, obs := range entities {
		entityType := types.EntityType(k[0])
		entityID := k[1]

		if err := d.evaluateMetric(ctx, entityType, entityID, "event_count", float64(obs.eventCount), now, obs.messages); err != nil {
			d.logger.WithError(err).Warn("anomaly: evaluate event_count failed")
		}
		if obs.errorCount > 0 {
			if err := d.evaluateMetric(ctx, entityType, entityID, "error_count", float64(obs.errorCount), now, obs.messages); err != nil {
				d.logger.WithError(err).Warn("anomaly: evaluate error_count failed")
			}
		}
	}
	return nil
}

func (d *Detector) evaluateMetric(ctx context.Context, entityType types.EntityType, entityID, metric string, current float64, now time.Time, relatedLogs []string) error {
	b, ok := d.baseline.Lookup(entityType, entityID, metric, now)
	if !ok {
		return d.maybeNewBehavior(ctx, entityType, entityID, metric, current, now, relatedLogs)
	}

	dev := baseline.Deviation(current, b)
	var anomalyType types.AnomalyType
	switch {
	case dev >= d.config.SpikeThreshold:
		anomalyType = types.AnomalySpike
	case dev <= d.config.DropThreshold:
		anomalyType = types.AnomalyDrop
	case d.isOffHours(now) && !b.IsTrusted(0):
		anomalyType = types.AnomalyTimeOfDay
	default:
		return nil
	}

	return d.record(ctx, entityType, entityID, anomalyType, metric, current, b.Mean, dev, now, relatedLogs)
}

func (d *Detector) maybeNewBehavior(ctx context.Context, entityType types.EntityType, entityID, metric string, current float64, now time.Time, relatedLogs []string) error {
	if current < 1 {
		return nil
	}
	// Without a baseline row we cannot distinguish "brand new" from
	// "baseline not yet built"; treat absence itself as the new-behavior
	// signal per spec.md §4.10 step 2.
	return d.record(ctx, entityType, entityID, types.AnomalyNewBehavior, metric, current, 0, 0, now, relatedLogs)
}

func (d *Detector) isOffHours(t time.Time) bool {
	h := t.Hour()
	if d.config.OffHoursStart <= d.config.OffHoursEnd {
		return h >= d.config.OffHoursStart && h < d.config.OffHoursEnd
	}
	return h >= d.config.OffHoursStart || h < d.config.OffHoursEnd
}

func (d *Detector) record(ctx context.Context, entityType types.EntityType, entityID string, anomalyType types.AnomalyType, metric string, observed, expected, deviation float64, now time.Time, relatedLogs []string) error {
	risk := RiskScore(deviation, anomalyType, entityType)
	severity := types.DetermineSeverity(risk)

	row := types.AnomalyRow{
		ID:             uuid.NewString(),
		Timestamp:      now,
		EntityType:     entityType,
		EntityID:       entityID,
		AnomalyType:    anomalyType,
		MetricName:     metric,
		Observed:       observed,
		Expected:       expected,
		DeviationScore: deviation,
		RiskScore:      risk,
		Severity:       severity,
		RelatedLogs:    relatedLogs,
	}

	if _, err := d.adapter.Exec(ctx, `INSERT INTO anomalies
		(id, timestamp, entity_type, entity_id, anomaly_type, metric_name, observed, expected,
		 deviation_score, risk_score, severity, related_logs, is_false_positive, feedback_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]interface{}{row.ID, fmtTime(row.Timestamp), string(row.EntityType), row.EntityID, string(row.AnomalyType),
			row.MetricName, row.Observed, row.Expected, row.DeviationScore, row.RiskScore, string(row.Severity),
			joinSnippets(row.RelatedLogs), boolToInt(row.IsFalsePositive), ""},
	); err != nil {
		return fmt.Errorf("anomaly: persist: %w", err)
	}

	metrics.RecordAnomaly(string(anomalyType), string(severity))
	return nil
}

// RecordFeedback marks an anomaly as a false positive (or reverses
// that), per spec.md §4.10's feedback exclusion rule.
func (d *Detector) RecordFeedback(ctx context.Context, id string, isFalsePositive bool) error {
	_, err := d.adapter.Exec(ctx, `UPDATE anomalies SET is_false_positive = ?, feedback_at = ? WHERE id = ?`,
		[]interface{}{boolToInt(isFalsePositive), fmtTime(time.Now()), id})
	return err
}

// RiskScore implements spec.md §4.10's formula:
// base = min(60, |deviation| * 15) * typeMult(type) * entityMult(entity_type), clamped to [0, 100].
func RiskScore(deviation float64, anomalyType types.AnomalyType, entityType types.EntityType) float64 {
	base := math.Min(60, math.Abs(deviation)*15)
	score := base * typeMultFor(anomalyType) * entityMultFor(entityType)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return math.Round(score)
}

func typeMultFor(t types.AnomalyType) float64 {
	if m, ok := typeMult[t]; ok {
		return m
	}
	return 1.0
}

func entityMultFor(e types.EntityType) float64 {
	if m, ok := entityMult[e]; ok {
		return m
	}
	return 1.0
}

func truncateSnippet(s string) string {
	if len(s) > types.RelatedLogSnippetMaxChars {
		return s[:types.RelatedLogSnippetMaxChars]
	}
	return s
}

func joinSnippets(snippets []string) string {
	out := ""
	for i, s := range snippets {
		if i > 0 {
			out += "\x1f"
		}
		out += s
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func rowString(row dsl.Row, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func rowInt(row dsl.Row, col string) int {
	v, ok := row[col]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
