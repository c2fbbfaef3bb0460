package dsl

import "time"

// sqlDialect isolates the differences between the two storage backends
// to placeholder syntax, interval arithmetic, and conditional-aggregate
// shape (spec.md §4.3). No reflection: each dialect is a concrete type
// (SPEC_FULL §5.1).
type sqlDialect interface {
	// Name reports the backend tag, matching storage.Adapter.Backend().
	Name() string
	// Placeholder returns the parameter marker for the nth bound value
	// (1-indexed); both dialects use positional "?" markers.
	Placeholder(n int) string
	// CountIf lowers a conditional count, e.g. countIf(cond) or
	// SUM(CASE WHEN cond THEN 1 ELSE 0 END).
	CountIf(cond string) string
	// BucketExpr lowers a timestamp column to a span-aligned bucket
	// start expression for GROUP BY/timechart.
	BucketExpr(col string, span time.Duration) string
	// Quote quotes an identifier for this dialect.
	Quote(ident string) string
}

// columnarDialect targets ClickHouse (SPEC_FULL §5.3).
type columnarDialect struct{}

func (columnarDialect) Name() string { return "clickhouse" }

func (columnarDialect) Placeholder(n int) string { return "?" }

func (columnarDialect) CountIf(cond string) string { return "countIf(" + cond + ")" }

func (columnarDialect) BucketExpr(col string, span time.Duration) string {
	seconds := int64(span.Seconds())
	if seconds <= 0 {
		seconds = 3600
	}
	return "toDateTime(intDiv(toUnixTimestamp(" + col + "), " + itoa(seconds) + ") * " + itoa(seconds) + ")"
}

func (columnarDialect) Quote(ident string) string { return "`" + ident + "`" }

// relationalDialect targets the embedded SQLite backend (SPEC_FULL §5.3).
type relationalDialect struct{}

func (relationalDialect) Name() string { return "sqlite" }

func (relationalDialect) Placeholder(n int) string { return "?" }

func (relationalDialect) CountIf(cond string) string {
	return "SUM(CASE WHEN " + cond + " THEN 1 ELSE 0 END)"
}

func (relationalDialect) BucketExpr(col string, span time.Duration) string {
	seconds := int64(span.Seconds())
	if seconds <= 0 {
		seconds = 3600
	}
	return "datetime((strftime('%s', " + col + ") / " + itoa(seconds) + ") * " + itoa(seconds) + ", 'unixepoch')"
}

func (relationalDialect) Quote(ident string) string { return `"` + ident + `"` }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DialectFor resolves the storage backend tag to its concrete dialect.
func DialectFor(backend string) sqlDialect {
	if backend == "clickhouse" {
		return columnarDialect{}
	}
	return relationalDialect{}
}
