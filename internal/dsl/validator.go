package dsl

import (
	"fmt"
	"regexp"

	lognogerrors "github.com/taskmasterpeace/lognog/pkg/errors"
)

// MaxLimit bounds numeric stage arguments (spec.md §4.2).
const MaxLimit = 100000

var validAggFuncs = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"dc": true, "values": true, "list": true, "earliest": true, "latest": true,
	"first": true, "last": true, "median": true, "mode": true, "stddev": true,
	"variance": true, "range": true, "p50": true, "p90": true, "p95": true, "p99": true,
}

var validEvalFuncs = map[string]bool{
	"upper": true, "lower": true, "len": true, "concat": true, "substr": true,
	"round": true, "floor": true, "ceil": true, "abs": true, "coalesce": true,
	"tonumber": true, "tostring": true,
}

// ValidationResult is the validator's output (spec.md §4.2).
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

type ValidationIssue struct {
	Message    string
	StageIndex int
}

// Validate checks stage-level well-formedness and returns both hard
// errors and non-blocking warnings. Validate never mutates pipeline.
func Validate(pipeline *Pipeline) *ValidationResult {
	result := &ValidationResult{Valid: true}

	addError := func(idx int, format string, args ...interface{}) {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationIssue{Message: fmt.Sprintf(format, args...), StageIndex: idx})
	}

	for i, stage := range pipeline.Stages {
		switch s := stage.(type) {
		case StatsStage:
			validateAggs(s.Aggs, i, addError)
		case TimechartStage:
			validateAggs(s.Aggs, i, addError)
			validateSpan(s.Span, i, addError)
		case BinStage:
			validateSpan(s.Span, i, addError)
		case LimitStage:
			validateLimit(s.N, i, addError)
		case HeadStage:
			validateLimit(s.N, i, addError)
		case TailStage:
			validateLimit(s.N, i, addError)
		case TopStage:
			validateLimit(s.N, i, addError)
		case RareStage:
			validateLimit(s.N, i, addError)
		case DedupStage:
			if len(s.Fields) == 0 {
				addError(i, "dedup requires at least one field")
			}
		case RexStage:
			if _, err := regexp.Compile(s.Regex); err != nil {
				addError(i, "rex regex does not compile: %v", err)
			}
		case EvalStage:
			for _, a := range s.Assigns {
				validateExpr(a.Expr, i, addError)
			}
		}
	}

	return result
}

func validateAggs(aggs []AggCall, idx int, addError func(int, string, ...interface{})) {
	if len(aggs) == 0 {
		addError(idx, "stats/timechart requires at least one aggregation")
	}
	for _, a := range aggs {
		if !validAggFuncs[a.Func] {
			addError(idx, "unknown aggregation function %q", a.Func)
			continue
		}
		if a.Func != "count" && a.Field == "" {
			addError(idx, "aggregation %q requires a field", a.Func)
		}
	}
}

func validateSpan(span string, idx int, addError func(int, string, ...interface{})) {
	d, err := ParseDuration(span)
	if err != nil || d <= 0 {
		addError(idx, "span must be a positive duration, got %q", span)
	}
}

func validateLimit(n int, idx int, addError func(int, string, ...interface{})) {
	if n <= 0 || n > MaxLimit {
		addError(idx, "limit must be positive and at most %d, got %d", MaxLimit, n)
	}
}

func validateExpr(e Expr, idx int, addError func(int, string, ...interface{})) {
	switch v := e.(type) {
	case CallExpr:
		if !validEvalFuncs[v.Func] && v.Func != "if" && v.Func != "case" {
			addError(idx, "unknown eval function %q", v.Func)
		}
		for _, arg := range v.Args {
			validateExpr(arg, idx, addError)
		}
	case BinaryExpr:
		validateExpr(v.Left, idx, addError)
		validateExpr(v.Right, idx, addError)
	case UnaryExpr:
		validateExpr(v.Expr, idx, addError)
	case IfExpr:
		validateExpr(v.Cond, idx, addError)
		validateExpr(v.Then, idx, addError)
		validateExpr(v.Else, idx, addError)
	case CaseExpr:
		for _, w := range v.Whens {
			validateExpr(w.Cond, idx, addError)
			validateExpr(w.Then, idx, addError)
		}
	}
}

// ValidateOrError adapts ValidationResult into the engine's typed error
// taxonomy for callers (e.g. the query handler) that just want err != nil.
func ValidateOrError(pipeline *Pipeline) (*ValidationResult, error) {
	result := Validate(pipeline)
	if !result.Valid {
		first := result.Errors[0]
		return result, &lognogerrors.ValidationError{Message: first.Message, StageIndex: first.StageIndex}
	}
	return result, nil
}
