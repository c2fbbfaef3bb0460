package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFiveStagePipeline(t *testing.T) {
	pipeline, err := Parse(`search host=web-01 severity<=3 | stats count by hostname | sort desc count | rename count as total | limit 10`)
	require.NoError(t, err)
	require.Len(t, pipeline.Stages, 5)

	search, ok := pipeline.Stages[0].(SearchStage)
	require.True(t, ok)
	cmp, ok := search.Filter.(AndExpr)
	require.True(t, ok)
	left := cmp.Left.(CompareExpr)
	assert.Equal(t, "hostname", left.Field)
	assert.Equal(t, OpEq, left.Op)

	stats, ok := pipeline.Stages[1].(StatsStage)
	require.True(t, ok)
	assert.Equal(t, []string{"hostname"}, stats.By)
	assert.Equal(t, "count", stats.Aggs[0].Func)

	assert.Equal(t, "sort", pipeline.Stages[2].stageKind())
	assert.Equal(t, "rename", pipeline.Stages[3].stageKind())
	assert.Equal(t, "limit", pipeline.Stages[4].stageKind())
}

func TestParseWildcardSearch(t *testing.T) {
	pipeline, err := Parse(`search * | timechart span=1h count`)
	require.NoError(t, err)
	require.Len(t, pipeline.Stages, 2)
	_, ok := pipeline.Stages[0].(SearchStage).Filter.(WildcardExpr)
	assert.True(t, ok)

	tc := pipeline.Stages[1].(TimechartStage)
	assert.Equal(t, "1h", tc.Span)
	assert.Equal(t, "count", tc.Aggs[0].Func)
}

func TestTopEquivalentToStatsSortLimit(t *testing.T) {
	top, err := Parse(`search * | top 5 hostname`)
	require.NoError(t, err)
	equivalent, err := Parse(`search * | stats count by hostname | sort desc count | limit 5`)
	require.NoError(t, err)

	ts := top.Stages[1].(TopStage)
	assert.Equal(t, 5, ts.N)
	assert.Equal(t, "hostname", ts.Field)
	require.Len(t, equivalent.Stages, 4)
}

func TestParseRejectsOversizedQuery(t *testing.T) {
	huge := make([]byte, MaxQueryBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := Parse(string(huge))
	require.Error(t, err)
}

func TestParseCanonicalizesFieldAliases(t *testing.T) {
	pipeline, err := Parse(`search host=web-01`)
	require.NoError(t, err)
	cmp := pipeline.Stages[0].(SearchStage).Filter.(CompareExpr)
	assert.Equal(t, "hostname", cmp.Field)
}

func TestParseEvalExpression(t *testing.T) {
	pipeline, err := Parse(`search * | eval upper_host=upper(hostname)`)
	require.NoError(t, err)
	ev := pipeline.Stages[1].(EvalStage)
	require.Len(t, ev.Assigns, 1)
	assert.Equal(t, "upper_host", ev.Assigns[0].Name)
	call := ev.Assigns[0].Expr.(CallExpr)
	assert.Equal(t, "upper", call.Func)
}
