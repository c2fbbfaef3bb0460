package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a DSL duration literal matching ^\d+(ms|s|m|h|d|w)$
// (spec.md §4.1, §6). time.ParseDuration does not understand d/w, so
// those two units are handled explicitly.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	if strings.HasSuffix(s, "w") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "w"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// ParseTimeLiteral resolves a DSL time expression — a duration literal
// (counted back from now, like its "-" relative form), a relative
// literal (-Nu[@u]), the keyword "now", or an ISO-8601 timestamp —
// against a fixed "now" so a single query plan is reproducible
// (spec.md §4.3 "materialized as absolute timestamps before SQL
// generation").
func ParseTimeLiteral(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	if strings.HasPrefix(s, "-") {
		return parseRelative(s, now)
	}
	if d, err := ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time literal %q", s)
}

func parseRelative(s string, now time.Time) (time.Time, error) {
	body := s[1:]
	var snapUnit byte
	if idx := strings.IndexByte(body, '@'); idx >= 0 {
		snapUnit = body[idx+1]
		body = body[:idx]
	}
	if len(body) == 0 {
		return time.Time{}, fmt.Errorf("invalid relative time %q", s)
	}
	unit := body[len(body)-1]
	n, err := strconv.Atoi(body[:len(body)-1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid relative time %q", s)
	}

	var d time.Duration
	switch unit {
	case 's':
		d = time.Duration(n) * time.Second
	case 'm':
		d = time.Duration(n) * time.Minute
	case 'h':
		d = time.Duration(n) * time.Hour
	case 'd':
		d = time.Duration(n) * 24 * time.Hour
	case 'w':
		d = time.Duration(n) * 7 * 24 * time.Hour
	default:
		return time.Time{}, fmt.Errorf("invalid relative time unit in %q", s)
	}

	result := now.Add(-d)
	if snapUnit != 0 {
		result = snapToUnit(result, snapUnit)
	}
	return result, nil
}

func snapToUnit(t time.Time, unit byte) time.Time {
	switch unit {
	case 's':
		return t.Truncate(time.Second)
	case 'm':
		return t.Truncate(time.Minute)
	case 'h':
		return t.Truncate(time.Hour)
	case 'd':
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case 'w':
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := int(d.Weekday())
		return d.AddDate(0, 0, -offset)
	default:
		return t
	}
}
