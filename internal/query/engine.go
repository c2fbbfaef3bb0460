// Package query composes the DSL engine's parse, validate, plan,
// execute, and post-process stages into one request/response call,
// bounded by a deadline and run inside the shared query worker pool
// (spec.md §4.4, §5; SPEC_FULL §2 "Tracing").
package query

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/taskmasterpeace/lognog/internal/dsl"
	"github.com/taskmasterpeace/lognog/internal/extract"
	"github.com/taskmasterpeace/lognog/internal/storage"
	lognogerrors "github.com/taskmasterpeace/lognog/pkg/errors"
	"github.com/taskmasterpeace/lognog/pkg/tracing"
	"github.com/taskmasterpeace/lognog/pkg/types"
	"github.com/taskmasterpeace/lognog/pkg/workerpool"
)

var tracer = otel.Tracer("lognog/dsl")

// Request is the query endpoint's input contract (spec.md §6).
type Request struct {
	Query         string
	Index         string
	Earliest      string
	Latest        string
	ExtractFields bool
}

// Response is the query endpoint's output contract (spec.md §6).
type Response struct {
	SQL             string    `json:"sql"`
	Results         []dsl.Row `json:"results"`
	Count           int       `json:"count"`
	ExecutionTimeMs int64     `json:"executionTime_ms"`
	Backend         string    `json:"backend"`
}

// Engine is the single entry point callers use to run a DSL query. It
// never mutates the adapter's state: a failed query leaves no stale
// state (spec.md §7).
type Engine struct {
	adapter   storage.Adapter
	pool      *workerpool.WorkerPool
	extractor *extract.Extractor
	timeout   time.Duration
	maxRows   int
}

func NewEngine(adapter storage.Adapter, pool *workerpool.WorkerPool, extractor *extract.Extractor, cfg types.QueryConfig) *Engine {
	return &Engine{
		adapter:   adapter,
		pool:      pool,
		extractor: extractor,
		timeout:   types.DurationOrDefault(cfg.DefaultTimeout, 30*time.Second),
		maxRows:   cfg.MaxResultRows,
	}
}

type executionResult struct {
	resp *Response
	err  error
}

// Execute submits req to the worker pool and blocks until it completes
// or the query's deadline passes, whichever comes first (spec.md §5
// "every query carries a deadline").
func (e *Engine) Execute(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resultCh := make(chan executionResult, 1)
	task := workerpool.Task{
		ID: req.Query,
		Execute: func(ctx context.Context) error {
			resp, err := e.run(ctx, req)
			resultCh <- executionResult{resp, err}
			return err
		},
	}

	if err := e.pool.SubmitTaskWithTimeout(task, e.timeout); err != nil {
		return nil, err
	}

	select {
	case res := <-resultCh:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, &lognogerrors.DeadlineExceeded{Operation: "query", Budget: e.timeout}
	}
}

func (e *Engine) run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	var pipeline *dsl.Pipeline
	err := tracing.Run(ctx, tracer, "dsl.parse", func(context.Context) error {
		p, err := dsl.Parse(req.Query)
		if err != nil {
			return err
		}
		pipeline = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = tracing.Run(ctx, tracer, "dsl.validate", func(context.Context) error {
		_, err := dsl.ValidateOrError(pipeline)
		return err
	})
	if err != nil {
		return nil, err
	}

	index := req.Index
	if index == "" {
		index = types.DefaultIndexName
	}

	var plan *dsl.Plan
	err = tracing.Run(ctx, tracer, "dsl.plan", func(context.Context) error {
		now := time.Now()
		p, err := dsl.BuildPlan(pipeline, index, e.adapter.Backend(), now)
		if err != nil {
			return &lognogerrors.PlanError{Message: "failed to build query plan", Cause: err}
		}
		// The request's own earliest/latest bound the window a query-text
		// `earliest=`/`latest=` predicate hasn't already narrowed (spec.md
		// §6): BuildPlan always puts the window bounds first in Args, so
		// overwriting them in place keeps the rest of the compiled SQL
		// untouched.
		if req.Earliest != "" {
			if t, err := dsl.ParseTimeLiteral(req.Earliest, now); err == nil && len(p.Args) > 0 {
				p.Earliest = t
				p.Args[0] = t
			}
		}
		if req.Latest != "" {
			if t, err := dsl.ParseTimeLiteral(req.Latest, now); err == nil && len(p.Args) > 1 {
				p.Latest = t
				p.Args[1] = t
			}
		}
		plan = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result *storage.QueryResult
	err = tracing.Run(ctx, tracer, "dsl.execute", func(ctx context.Context) error {
		r, err := e.adapter.ExecuteQuery(ctx, plan.SQL, plan.Args)
		if err != nil {
			return &lognogerrors.StorageError{Backend: e.adapter.Backend(), Operation: "execute_query", Cause: err}
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	var rows []dsl.Row
	err = tracing.Run(ctx, tracer, "dsl.postprocess", func(context.Context) error {
		r, err := dsl.PostProcess(result.Rows, plan.PostStages, plan)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.ExtractFields && e.extractor != nil {
		for _, row := range rows {
			msg, ok := row["message"].(string)
			if !ok {
				continue
			}
			for k, v := range e.extractor.Extract(msg) {
				if _, exists := row[k]; !exists {
					row[k] = v
				}
			}
		}
	}

	if e.maxRows > 0 && len(rows) > e.maxRows {
		rows = rows[:e.maxRows]
	}

	return &Response{
		SQL:             plan.SQL,
		Results:         rows,
		Count:           len(rows),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Backend:         e.adapter.Backend(),
	}, nil
}
