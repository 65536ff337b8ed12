package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records store operation metrics through OpenTelemetry. The Prometheus
// exporter publishes them on the default registry, next to the promauto metrics.
// A nil *Observability is a valid no-op recorder.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	opCounter     otelmetric.Int64Counter
	opDuration    otelmetric.Float64Histogram
}

func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return newWithProvider(provider, serviceName)
}

func newWithProvider(provider *metric.MeterProvider, serviceName string) (*Observability, error) {
	meter := provider.Meter(serviceName)

	opCounter, err := meter.Int64Counter(
		"store.operations",
		otelmetric.WithDescription("Number of notification store operations"),
	)
	if err != nil {
		return nil, err
	}

	opDuration, err := meter.Float64Histogram(
		"store.operation.duration",
		otelmetric.WithDescription("Notification store operation duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		opCounter:     opCounter,
		opDuration:    opDuration,
	}, nil
}

// RecordStoreOperation counts one store call and its latency.
func (o *Observability) RecordStoreOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	o.opCounter.Add(ctx, 1, attrs)
	o.opDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	return o.meterProvider.Shutdown(ctx)
}
