// Package telemetry configures OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Exporter names accepted by NewExporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Options describes the tracer provider.
type Options struct {
	ServiceName string
	Version     string
	// SampleRatio applies to root spans; children follow their parent.
	// Values outside (0, 1) are clamped by the sampler.
	SampleRatio float64
}

// NewExporter builds the named span exporter. "none" and "" return nil, which
// InitTracerProvider skips.
func NewExporter(name string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch name {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", name)
	}
}

// InitTracerProvider installs a global tracer provider and the W3C
// propagators. Without exporters spans are still sampled so trace context
// propagates to the provider.
func InitTracerProvider(
	ctx context.Context,
	opts Options,
	exporters ...sdktrace.SpanExporter,
) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	}
	for _, exp := range exporters {
		if exp != nil {
			providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
		}
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
