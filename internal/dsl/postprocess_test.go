package dsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostProcessEvalArithmetic(t *testing.T) {
	rows := []Row{{"bytes": float64(10)}, {"bytes": float64(20)}}
	pipeline, err := Parse(`search * | eval kb=bytes/1024`)
	require.NoError(t, err)

	out, err := PostProcess(rows, pipeline.Stages[1:], &Plan{})
	require.NoError(t, err)
	assert.InDelta(t, 10.0/1024, out[0]["kb"], 1e-9)
}

func TestPostProcessGapFillInsertsZeroBuckets(t *testing.T) {
	earliest := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	latest := earliest.Add(3 * time.Hour)
	rows := []Row{
		{"__bucket": earliest, "count": float64(5)},
	}
	plan := &Plan{Earliest: earliest, Latest: latest}
	out, err := PostProcess(rows, []Stage{TimechartGapFillMarker{Span: time.Hour}}, plan)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, float64(5), out[0]["count"])
	assert.Equal(t, float64(0), out[1]["count"])
	assert.Equal(t, float64(0), out[2]["count"])
}

func TestPostProcessDedupKeepsFirstOccurrence(t *testing.T) {
	rows := []Row{
		{"hostname": "web-01", "message": "a"},
		{"hostname": "web-01", "message": "b"},
		{"hostname": "web-02", "message": "c"},
	}
	out, err := PostProcess(rows, []Stage{DedupStage{Fields: []string{"hostname"}}}, &Plan{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0]["message"])
}

func TestPostProcessRexExtractsNamedGroups(t *testing.T) {
	rows := []Row{{"message": "user=alice code=500"}}
	out, err := PostProcess(rows, []Stage{RexStage{Field: "message", Regex: `code=(?P<status>\d+)`}}, &Plan{})
	require.NoError(t, err)
	assert.Equal(t, "500", out[0]["status"])
}

func TestPostProcessFieldsIncludeAndExclude(t *testing.T) {
	rows := []Row{{"hostname": "web-01", "severity": float64(3), "message": "x"}}
	out, err := PostProcess(rows, []Stage{FieldsStage{Include: true, Fields: []string{"hostname"}}}, &Plan{})
	require.NoError(t, err)
	assert.Len(t, out[0], 1)
	_, ok := out[0]["hostname"]
	assert.True(t, ok)
}

func TestPostProcessTailReverseMarkerRestoresChronologicalOrder(t *testing.T) {
	rows := []Row{{"n": float64(3)}, {"n": float64(2)}, {"n": float64(1)}}
	out, err := PostProcess(rows, []Stage{ReverseMarker{}}, &Plan{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out[0]["n"])
	assert.Equal(t, float64(3), out[2]["n"])
}
