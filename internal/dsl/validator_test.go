package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassesWellFormedPipeline(t *testing.T) {
	pipeline, err := Parse(`search host=web-01 | stats count by hostname`)
	require.NoError(t, err)
	result := Validate(pipeline)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateRejectsUnknownAggFunc(t *testing.T) {
	pipeline := &Pipeline{Stages: []Stage{
		StatsStage{Aggs: []AggCall{{Func: "bogus"}}},
	}}
	result := Validate(pipeline)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.Errors[0].StageIndex)
}

func TestValidateRejectsEmptyStats(t *testing.T) {
	pipeline := &Pipeline{Stages: []Stage{StatsStage{}}}
	result := Validate(pipeline)
	assert.False(t, result.Valid)
}

func TestValidateRejectsLimitOutOfRange(t *testing.T) {
	pipeline := &Pipeline{Stages: []Stage{LimitStage{N: MaxLimit + 1}}}
	result := Validate(pipeline)
	assert.False(t, result.Valid)

	pipeline2 := &Pipeline{Stages: []Stage{LimitStage{N: 0}}}
	assert.False(t, Validate(pipeline2).Valid)
}

func TestValidateRejectsBadRexRegex(t *testing.T) {
	pipeline := &Pipeline{Stages: []Stage{RexStage{Field: "message", Regex: "(unterminated"}}}
	result := Validate(pipeline)
	assert.False(t, result.Valid)
}

func TestValidateOrErrorWrapsTypedError(t *testing.T) {
	pipeline := &Pipeline{Stages: []Stage{DedupStage{}}}
	_, err := ValidateOrError(pipeline)
	require.Error(t, err)
}
