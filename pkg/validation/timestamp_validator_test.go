package validation

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/pkg/dlq"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

func TestTimestampValidatorDisabledPassesThrough(t *testing.T) {
	v := NewTimestampValidator(Config{Enabled: false}, logrus.New(), nil)

	past := time.Now().Add(-48 * time.Hour)
	e := &types.Event{Timestamp: past}

	result := v.Validate(e)
	assert.True(t, result.Valid)
	assert.Equal(t, "disabled", result.Action)
	assert.Equal(t, past, e.Timestamp)
}

func TestTimestampValidatorValidWithinWindow(t *testing.T) {
	v := NewTimestampValidator(Config{Enabled: true, MaxPastAgeSeconds: 3600, MaxFutureAgeSeconds: 60}, logrus.New(), nil)

	e := &types.Event{Timestamp: time.Now().Add(-time.Minute)}
	result := v.Validate(e)

	assert.True(t, result.Valid)
	assert.Equal(t, "valid", result.Action)
	assert.Equal(t, int64(1), v.GetStats().Valid)
}

func TestTimestampValidatorClampsPastByDefault(t *testing.T) {
	v := NewTimestampValidator(Config{Enabled: true, MaxPastAgeSeconds: 3600, MaxFutureAgeSeconds: 60}, logrus.New(), nil)

	original := time.Now().Add(-5 * time.Hour)
	e := &types.Event{Timestamp: original}

	result := v.Validate(e)
	require.Equal(t, "clamped", result.Action)
	assert.True(t, result.Valid)
	assert.NotEqual(t, original, e.Timestamp)
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Second)
	assert.Equal(t, int64(1), v.GetStats().Clamped)
}

func TestTimestampValidatorClampsFuture(t *testing.T) {
	v := NewTimestampValidator(Config{Enabled: true, MaxPastAgeSeconds: 3600, MaxFutureAgeSeconds: 60}, logrus.New(), nil)

	e := &types.Event{Timestamp: time.Now().Add(5 * time.Hour)}
	result := v.Validate(e)

	assert.Equal(t, "clamped", result.Action)
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Second)
}

func TestTimestampValidatorWarnLeavesTimestampAlone(t *testing.T) {
	v := NewTimestampValidator(Config{Enabled: true, MaxPastAgeSeconds: 3600, MaxFutureAgeSeconds: 60, InvalidAction: "warn"}, logrus.New(), nil)

	original := time.Now().Add(-5 * time.Hour)
	e := &types.Event{Timestamp: original}

	result := v.Validate(e)
	assert.Equal(t, "warned", result.Action)
	assert.True(t, result.Valid)
	assert.Equal(t, original, e.Timestamp)
	assert.Equal(t, int64(1), v.GetStats().Warned)
}

func TestTimestampValidatorRejectRoutesToDeadLetterQueue(t *testing.T) {
	dir := t.TempDir()
	q := dlq.NewQueue(dlq.Config{Enabled: true, Directory: dir, QueueSize: 10, RetentionDays: 7}, logrus.New())
	require.NoError(t, q.Start())
	t.Cleanup(func() { q.Stop() })

	v := NewTimestampValidator(Config{Enabled: true, MaxPastAgeSeconds: 3600, MaxFutureAgeSeconds: 60, InvalidAction: "reject"}, logrus.New(), q)

	original := time.Now().Add(-5 * time.Hour)
	e := &types.Event{Timestamp: original, IndexName: "main"}

	result := v.Validate(e)
	assert.False(t, result.Valid)
	assert.Equal(t, "rejected", result.Action)
	assert.Equal(t, original, e.Timestamp)
	assert.Equal(t, int64(1), v.GetStats().Rejected)
}
