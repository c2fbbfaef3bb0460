package dsl

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlanStatsProducesGroupedQuery(t *testing.T) {
	pipeline, err := Parse(`search host=web-01 severity<=3 | stats count`)
	require.NoError(t, err)
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	plan, err := BuildPlan(pipeline, "main", "sqlite", now)
	require.NoError(t, err)
	assert.True(t, plan.Grouped)
	assert.Contains(t, plan.SQL, "COUNT(*)")
	assert.Contains(t, plan.SQL, `"main"`)
	assert.Empty(t, plan.PostStages)
	// 2 bounding time args + hostname + severity
	assert.Len(t, plan.Args, 4)
}

func TestBuildPlanTimechartAddsGapFillMarker(t *testing.T) {
	pipeline, err := Parse(`search * | timechart span=1h count`)
	require.NoError(t, err)
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	plan, err := BuildPlan(pipeline, "main", "clickhouse", now)
	require.NoError(t, err)
	assert.True(t, plan.Grouped)
	assert.Equal(t, time.Hour, plan.Span)
	require.Len(t, plan.PostStages, 1)
	_, ok := plan.PostStages[0].(TimechartGapFillMarker)
	assert.True(t, ok)
	assert.Contains(t, plan.SQL, "toDateTime")
}

func TestBuildPlanNoBarrierDefersEverythingToPostProcess(t *testing.T) {
	pipeline, err := Parse(`search * | eval x=1`)
	require.NoError(t, err)
	now := time.Now()

	plan, err := BuildPlan(pipeline, "main", "sqlite", now)
	require.NoError(t, err)
	assert.False(t, plan.Grouped)
	require.Len(t, plan.PostStages, 2)
	assert.True(t, strings.Contains(plan.SQL, "SELECT *"))
}

func TestBuildPlanTailReversesClientSide(t *testing.T) {
	pipeline, err := Parse(`search * | tail 5`)
	require.NoError(t, err)
	plan, err := BuildPlan(pipeline, "main", "sqlite", time.Now())
	require.NoError(t, err)
	require.Len(t, plan.PostStages, 1)
	_, ok := plan.PostStages[0].(ReverseMarker)
	assert.True(t, ok)
}
