package main

import (
	"context"
	"errors"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	otelexport "github.com/MrEthical07/goIdentity/metrics/export/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "identityd"

// setupMetricsExport pushes the service counters to an OTLP/HTTP collector
// every interval. An empty endpoint disables export and returns a no-op
// shutdown.
//
// The returned shutdown flushes once more before stopping and should be
// deferred by the caller.
func setupMetricsExport(ctx context.Context, endpoint string, interval time.Duration, svc *goIdentity.Service) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}
	if svc == nil {
		return noop, otelexport.ErrNilSource
	}

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(interval))),
		metric.WithResource(res),
	)

	bridge, err := otelexport.NewExporter(mp.Meter("github.com/MrEthical07/goIdentity"), svc)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return noop, err
	}

	return func(ctx context.Context) error {
		flushErr := mp.ForceFlush(ctx)
		closeErr := bridge.Close()
		return errors.Join(flushErr, closeErr, mp.Shutdown(ctx))
	}, nil
}
