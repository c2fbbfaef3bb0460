package errors

import (
	"fmt"
	"time"
)

// The types in this file are the typed error taxonomy the DSL engine,
// storage adapter, field extractor, and ingestion pipeline return, layered
// on top of AppError: callers that need component/severity/metadata for
// logging use AppError; callers that need to switch on the failure kind
// (the query HTTP handler deciding a 400 vs 504 vs 500) use these with
// errors.As.

// ParseError reports a lexer/parser failure at a specific source position.
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// ValidationError reports a pipeline stage that failed semantic validation
// (unknown aggregation or eval function, missing aggregation field,
// out-of-range span or limit, empty dedup, uncompilable rex).
type ValidationError struct {
	Message    string
	StageIndex int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error at stage %d: %s", e.StageIndex, e.Message)
}

// PlanError reports a failure translating a validated pipeline into a
// storage-dialect query plan.
type PlanError struct {
	Message string
	Cause   error
}

func (e *PlanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plan error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("plan error: %s", e.Message)
}

func (e *PlanError) Unwrap() error { return e.Cause }

// StorageError reports a failure from the storage adapter, tagged with
// which backend produced it so callers can distinguish columnar vs
// relational failures without importing the storage package.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage(%s) %s: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// DeadlineExceeded reports that a query or ingestion operation ran past
// its configured budget.
type DeadlineExceeded struct {
	Operation string
	Budget    time.Duration
}

func (e *DeadlineExceeded) Error() string {
	return fmt.Sprintf("%s exceeded deadline of %s", e.Operation, e.Budget)
}

// ExtractionError reports a field-extraction pattern that failed to
// compile or apply.
type ExtractionError struct {
	Pattern string
	Cause   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction pattern %q failed: %v", e.Pattern, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// IngestionDrop reports an event discarded by the ingestion pipeline
// (batch retries exhausted, queue overflow) rather than a hard failure;
// callers log it and increment a counter instead of propagating it.
type IngestionDrop struct {
	Index  string
	Reason string
}

func (e *IngestionDrop) Error() string {
	return fmt.Sprintf("dropped event for index %q: %s", e.Index, e.Reason)
}
