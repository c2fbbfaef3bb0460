// Package baseline computes the historical mean/stddev of per-entity
// metrics the anomaly detector compares live observations against
// (spec.md §4.9).
package baseline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/internal/dsl"
	"github.com/taskmasterpeace/lognog/internal/metrics"
	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

const (
	defaultWindowDays = 14
	defaultShardCount = 64
	defaultMinSamples = types.MinBaselineSamples
)

// cellKey identifies one (entity_type, entity_id, metric, hour, dow)
// baseline cell.
type cellKey struct {
	EntityType types.EntityType
	EntityID   string
	Metric     string
	HourOfDay  int
	DayOfWeek  int
}

func (k cellKey) shard(n int) int {
	h := xxhash.Sum64String(fmt.Sprintf("%s|%s|%s", k.EntityType, k.EntityID, k.Metric))
	return int(h % uint64(n))
}

// Calculator owns the baseline cells for every entity/metric pair and
// the sharded locks protecting concurrent recalculation of different
// entities (SPEC_FULL §5.5: xxhash-bucketed shard locks instead of one
// global mutex, grounded on the field extractor's xxhash-keyed cache).
type Calculator struct {
	adapter storage.Adapter
	logger  *logrus.Logger
	config  types.BaselineConfig

	shardLocks []sync.Mutex

	mu    sync.RWMutex
	cells map[cellKey]types.BaselineRow
}

func NewCalculator(adapter storage.Adapter, logger *logrus.Logger, config types.BaselineConfig) *Calculator {
	if config.ShardCount <= 0 {
		config.ShardCount = defaultShardCount
	}
	if config.WindowDays <= 0 {
		config.WindowDays = defaultWindowDays
	}
	if config.MinSamples <= 0 {
		config.MinSamples = defaultMinSamples
	}
	return &Calculator{
		adapter:    adapter,
		logger:     logger,
		config:     config,
		shardLocks: make([]sync.Mutex, config.ShardCount),
		cells:      make(map[cellKey]types.BaselineRow),
	}
}

func (c *Calculator) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS baseline_cells (
		entity_type TEXT,
		entity_id TEXT,
		metric_name TEXT,
		hour_of_day INTEGER,
		day_of_week INTEGER,
		mean REAL,
		stddev REAL,
		sample_count INTEGER,
		updated_at TEXT
	)`
	if c.adapter.Backend() == "clickhouse" {
		ddl = `CREATE TABLE IF NOT EXISTS baseline_cells (
			entity_type String, entity_id String, metric_name String,
			hour_of_day Int64, day_of_week Int64,
			mean Float64, stddev Float64, sample_count Int64, updated_at String
		) ENGINE = ReplacingMergeTree ORDER BY (entity_type, entity_id, metric_name, hour_of_day, day_of_week)`
	}
	return c.adapter.ExecuteDDL(ctx, ddl)
}

// metricSamples is the raw per-(entity,hour-bucket) observation stream
// Recalculate pulls from the event store before reducing to
// mean/stddev.
type metricSamples struct {
	key    cellKey
	values []float64
}

// Recalculate does a full rebuild of every cell for index's events over
// the configured window (spec.md §4.9: "full rebuild per window" is the
// default update policy). It groups events by hour bucket in Go rather
// than relying on dialect-specific date-trunc SQL, since the adapter's
// one query contract must work identically against both backends.
func (c *Calculator) Recalculate(ctx context.Context, index string) error {
	since := time.Now().Add(-time.Duration(c.config.WindowDays) * 24 * time.Hour)
	query := fmt.Sprintf(`SELECT timestamp, hostname, app_name, source_ip, severity, structured_data
		FROM %q WHERE timestamp >= ?`, index)
	result, err := c.adapter.ExecuteQuery(ctx, query, []interface{}{since.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return fmt.Errorf("baseline: recalculate %s: %w", index, err)
	}

	buckets := make(map[cellKey][]float64)
	counts := make(map[string]map[time.Time]int) // per (entityType|entityID|metric) -> hour-bucket -> count

	for _, row := range result.Rows {
		ts := rowTime(row, "timestamp")
		if ts.IsZero() {
			continue
		}
		hourBucket := time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC)
		isError := rowInt(row, "severity") <= 3

		entities := map[types.EntityType]string{
			types.EntityHost: rowString(row, "hostname"),
			types.EntityApp:  rowString(row, "app_name"),
			types.EntityIP:   rowString(row, "source_ip"),
		}
		for entityType, entityID := range entities {
			if entityID == "" {
				continue
			}
			addCount(counts, entityType, entityID, "event_count", hourBucket, 1)
			if isError {
				addCount(counts, entityType, entityID, "error_count", hourBucket, 1)
			}
		}
	}

	for bucketKey, byHour := range counts {
		entityType, entityID, metric := splitBucketKey(bucketKey)
		for hourBucket, n := range byHour {
			key := cellKey{
				EntityType: entityType,
				EntityID:   entityID,
				Metric:     metric,
				HourOfDay:  hourBucket.Hour(),
				DayOfWeek:  int(hourBucket.Weekday()),
			}
			buckets[key] = append(buckets[key], float64(n))
		}
	}

	now := time.Now()
	for key, values := range buckets {
		mean, stddev := meanStdDev(values)
		row := types.BaselineRow{
			EntityType:  key.EntityType,
			EntityID:    key.EntityID,
			MetricName:  key.Metric,
			HourOfDay:   key.HourOfDay,
			DayOfWeek:   key.DayOfWeek,
			Mean:        mean,
			StdDev:      stddev,
			SampleCount: len(values),
			UpdatedAt:   now,
		}
		c.storeCell(ctx, key, row)
	}

	c.updateTrustedRatio()
	return nil
}

func (c *Calculator) updateTrustedRatio() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	trusted := make(map[types.EntityType]int)
	total := make(map[types.EntityType]int)
	for k, row := range c.cells {
		total[k.EntityType]++
		if row.IsTrusted(c.config.MinSamples) {
			trusted[k.EntityType]++
		}
	}
	for entityType, n := range total {
		if n == 0 {
			continue
		}
		metrics.BaselineTrustedRatio.WithLabelValues(string(entityType)).Set(float64(trusted[entityType]) / float64(n))
	}
}

// storeCell updates the in-memory cell under its shard lock and
// persists it via upsert (delete-then-insert, portable across both
// dialects).
func (c *Calculator) storeCell(ctx context.Context, key cellKey, row types.BaselineRow) {
	lock := &c.shardLocks[key.shard(len(c.shardLocks))]
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	c.cells[key] = row
	c.mu.Unlock()

	metrics.BaselineCellsUpdated.WithLabelValues(string(key.EntityType)).Inc()

	_, _ = c.adapter.Exec(ctx, `DELETE FROM baseline_cells WHERE entity_type = ? AND entity_id = ? AND metric_name = ? AND hour_of_day = ? AND day_of_week = ?`,
		[]interface{}{string(key.EntityType), key.EntityID, key.Metric, key.HourOfDay, key.DayOfWeek})
	_, err := c.adapter.Exec(ctx, `INSERT INTO baseline_cells
		(entity_type, entity_id, metric_name, hour_of_day, day_of_week, mean, stddev, sample_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]interface{}{string(key.EntityType), key.EntityID, key.Metric, key.HourOfDay, key.DayOfWeek,
			row.Mean, row.StdDev, row.SampleCount, fmtTime(row.UpdatedAt)})
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"entity_type": key.EntityType, "entity_id": key.EntityID}).Warn("baseline: persist cell failed")
	}
}

// Lookup returns the baseline for (entityType, entityID, metric) at t,
// falling back to the entity's all-hours aggregate, then to "no
// baseline" (spec.md §4.9).
func (c *Calculator) Lookup(entityType types.EntityType, entityID, metric string, t time.Time) (types.BaselineRow, bool) {
	key := cellKey{EntityType: entityType, EntityID: entityID, Metric: metric, HourOfDay: t.Hour(), DayOfWeek: int(t.Weekday())}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if row, ok := c.cells[key]; ok {
		return row, true
	}

	// Fall back to the aggregate over all hours for this entity.
	var total float64
	var totalN int
	found := false
	for k, row := range c.cells {
		if k.EntityType == entityType && k.EntityID == entityID && k.Metric == metric {
			total += row.Mean * float64(row.SampleCount)
			totalN += row.SampleCount
			found = true
		}
	}
	if !found || totalN == 0 {
		return types.BaselineRow{}, false
	}
	return types.BaselineRow{
		EntityType:  entityType,
		EntityID:    entityID,
		MetricName:  metric,
		Mean:        total / float64(totalN),
		SampleCount: totalN,
	}, true
}

// Deviation returns the z-score of observation x against baseline b,
// using the floor_stddev stabilizer for low-variance series (spec.md §4.9).
func Deviation(x float64, b types.BaselineRow) float64 {
	floor := math.Max(1, 0.1*b.Mean)
	denom := math.Max(b.StdDev, floor)
	return (x - b.Mean) / denom
}

func meanStdDev(values []float64) (mean, stddev float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(n))
	return mean, stddev
}

func addCount(counts map[string]map[time.Time]int, entityType types.EntityType, entityID, metric string, hourBucket time.Time, n int) {
	key := string(entityType) + "|" + entityID + "|" + metric
	if counts[key] == nil {
		counts[key] = make(map[time.Time]int)
	}
	counts[key][hourBucket] += n
}

func splitBucketKey(key string) (types.EntityType, string, string) {
	var entityType, entityID, metric string
	parts := 0
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			switch parts {
			case 0:
				entityType = key[start:i]
			case 1:
				entityID = key[start:i]
			}
			parts++
			start = i + 1
		}
	}
	metric = key[start:]
	return types.EntityType(entityType), entityID, metric
}

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

func rowTime(row dsl.Row, col string) time.Time {
	v, ok := row[col]
	if !ok || v == nil {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
