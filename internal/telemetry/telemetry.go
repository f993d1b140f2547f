// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Options struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	// Writer receives stdout exporter output; nil means os.Stdout.
	Writer io.Writer
}

// Setup registers a tracer provider for the chosen exporter and returns its
// shutdown func. With ExporterNone the global no-op provider is left alone.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	var exp sdktrace.SpanExporter
	var err error

	switch opts.Exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		so := []stdouttrace.Option{}
		if opts.Writer != nil {
			so = append(so, stdouttrace.WithWriter(opts.Writer))
		}
		exp, err = stdouttrace.New(so...)
	case ExporterOTLP:
		ho := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if opts.OTLPEndpoint != "" {
			ho = append(ho, otlptracehttp.WithEndpoint(opts.OTLPEndpoint))
		}
		exp, err = otlptracehttp.New(ctx, ho...)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", opts.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
