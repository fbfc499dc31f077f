package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func TestInitTracerProviderExportsSpans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	tp, err := InitTracerProvider(ctx, Options{ServiceName: "tierfetch-test", Version: "v0.0.1", SampleRatio: 1}, exporter, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := otel.Tracer("telemetry-test").Start(ctx, "dispatch")
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "dispatch", spans[0].Name)
	require.Contains(t, spans[0].Resource.Attributes(), semconv.ServiceName("tierfetch-test"))
	require.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestInitTracerProviderZeroRatioDropsRoots(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	tp, err := InitTracerProvider(ctx, Options{ServiceName: "tierfetch-test", SampleRatio: 0}, exporter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := tp.Tracer("telemetry-test").Start(ctx, "dropped")
	require.False(t, span.SpanContext().IsSampled())
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))
	require.Empty(t, exporter.GetSpans())
}

func TestNewExporter(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", ExporterNone} {
		exp, err := NewExporter(name, nil)
		require.NoError(t, err)
		require.Nil(t, exp)
	}

	var buf bytes.Buffer
	exp, err := NewExporter(ExporterStdout, &buf)
	require.NoError(t, err)
	require.NotNil(t, exp)
	require.NoError(t, exp.Shutdown(context.Background()))

	_, err = NewExporter("jaeger", nil)
	require.ErrorContains(t, err, `unknown trace exporter "jaeger"`)
}
