package dsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationHandlesDayAndWeek(t *testing.T) {
	d, err := ParseDuration("2d")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	w, err := ParseDuration("1w")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, w)

	s, err := ParseDuration("30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s)
}

func TestParseTimeLiteralNow(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	got, err := ParseTimeLiteral("now", now)
	require.NoError(t, err)
	assert.Equal(t, now, got)
}

func TestParseTimeLiteralRelativeSnapped(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 34, 56, 0, time.UTC)
	got, err := ParseTimeLiteral("-1h@h", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 29, 11, 0, 0, 0, time.UTC), got)
}

func TestParseTimeLiteralRelativeDaySnap(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 34, 56, 0, time.UTC)
	got, err := ParseTimeLiteral("-1d@d", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC), got)
}

func TestParseTimeLiteralRejectsGarbage(t *testing.T) {
	_, err := ParseTimeLiteral("not-a-time", time.Now())
	assert.Error(t, err)
}
