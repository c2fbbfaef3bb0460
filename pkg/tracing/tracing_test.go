package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDisabledReturnsNoopTracer(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, logrus.New())
	require.NoError(t, err)
	require.NotNil(t, m.Tracer())

	ctx, span := Start(context.Background(), m.Tracer(), "test-span")
	require.NotNil(t, ctx)
	span.End()
}

func TestRunRecordsErrorOnSpan(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, logrus.New())
	require.NoError(t, err)

	wantErr := errors.New("boom")
	gotErr := Run(context.Background(), m.Tracer(), "op", func(ctx context.Context) error {
		return wantErr
	})
	assert.Equal(t, wantErr, gotErr)
}

func TestRunPropagatesSuccess(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, logrus.New())
	require.NoError(t, err)

	called := false
	err = Run(context.Background(), m.Tracer(), "op", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestTraceIDFromContextEmptyWithoutSpan(t *testing.T) {
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}

func TestUnsupportedExporterFailsInit(t *testing.T) {
	_, err := NewManager(Config{Enabled: true, Exporter: "bogus", SamplingRatio: 1.0}, logrus.New())
	require.Error(t, err)
}
