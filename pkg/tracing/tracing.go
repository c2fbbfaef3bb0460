// Package tracing wraps the DSL query path
// (parse -> validate -> plan -> execute -> post-process) and the
// ingestion pipeline (receive -> extract -> batch insert) in
// OpenTelemetry spans.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures distributed tracing for the process.
type Config struct {
	Enabled       bool
	ServiceName   string
	Environment   string
	Exporter      string // "otlphttp", "jaeger", "none"
	OTLPEndpoint  string
	JaegerURL     string
	SamplingRatio float64
}

// Manager owns the tracer provider for the process lifetime.
type Manager struct {
	config   Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewManager initializes tracing, or returns a no-op tracer when
// disabled so callers never need a nil check.
func NewManager(config Config, logger *logrus.Logger) (*Manager, error) {
	if !config.Enabled || config.Exporter == "none" {
		return &Manager{config: config, logger: logger, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{config: config, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(m.config.ServiceName),
			semconv.DeploymentEnvironment(m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to build trace resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.config.SamplingRatio)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	m.tracer = otel.Tracer(m.config.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"exporter":       m.config.Exporter,
		"sampling_ratio": m.config.SamplingRatio,
	}).Info("tracing initialized")
	return nil
}

func (m *Manager) createExporter() (trace.SpanExporter, error) {
	switch m.config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.config.JaegerURL)))
	case "otlphttp":
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(m.config.OTLPEndpoint),
		))
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", m.config.Exporter)
	}
}

// Tracer returns the process tracer (a no-op tracer if disabled).
func (m *Manager) Tracer() oteltrace.Tracer { return m.tracer }

// Shutdown flushes and stops the tracer provider, a no-op if tracing
// was disabled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// Span wraps an active span with a few convenience helpers used across
// the DSL and ingestion code paths instead of importing otel directly
// everywhere.
type Span struct {
	ctx  context.Context
	span oteltrace.Span
}

// Start begins a new span as a child of ctx.
func Start(ctx context.Context, tracer oteltrace.Tracer, name string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, name)
	return ctx, &Span{ctx: ctx, span: span}
}

func (s *Span) Context() context.Context { return s.ctx }

func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue
	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}
	s.span.SetAttributes(attr)
}

// SetError records err on the span and marks it failed; a nil err
// marks the span Ok instead.
func (s *Span) SetError(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		return
	}
	s.span.SetStatus(codes.Ok, "")
}

func (s *Span) End() { s.span.End() }

// Run executes fn inside a new span, recording its duration and error
// automatically — the shape every DSL/ingestion stage uses.
func Run(ctx context.Context, tracer oteltrace.Tracer, name string, fn func(context.Context) error) error {
	ctx, span := Start(ctx, tracer, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttribute("duration_ms", time.Since(start).Milliseconds())
	span.SetError(err)
	return err
}

// TraceIDFromContext extracts the active trace ID for structured log
// correlation, returning "" when there is no active span.
func TraceIDFromContext(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
