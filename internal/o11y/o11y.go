package o11y

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
)

type Observability struct {
	Logger   *slog.Logger
	Tracer   *trace.TracerProvider
	Registry *prometheus.Registry
	Metrics  *Metrics
}

// Setup builds the JSON logger, the tracer provider exporting to otlpEndpoint over HTTP, and a
// Prometheus registry carrying the domain metrics.
func Setup(ctx context.Context, otlpEndpoint string) (*Observability, func(), error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithEndpoint(otlpEndpoint),
	)
	if err != nil {
		return nil, func() {}, err
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithSampler(trace.ParentBased(
			trace.TraceIDRatioBased(0.1),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	registry := prometheus.NewRegistry()

	cleanup := func() {
		tp.Shutdown(context.Background())
	}

	return &Observability{
		Logger:   logger,
		Tracer:   tp,
		Registry: registry,
		Metrics:  NewMetrics(registry),
	}, cleanup, nil
}
