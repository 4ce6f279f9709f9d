package main

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-signatures/adapters/otelmetrics"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/goliatone/go-signatures"

type metricsOptions struct {
	endpoint string
	insecure bool
	interval time.Duration
}

// newMeterProvider exports through OTLP gRPC when an endpoint is set; otherwise
// instruments are recorded but never exported.
func newMeterProvider(ctx context.Context, opts metricsOptions) (*sdkmetric.MeterProvider, error) {
	if opts.endpoint == "" {
		return sdkmetric.NewMeterProvider(), nil
	}
	exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(opts.endpoint)}
	if opts.insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	interval := opts.interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}

func newMetricsRecorder(provider *sdkmetric.MeterProvider, logger glog.Logger) (*otelmetrics.Recorder, error) {
	return otelmetrics.NewRecorder(provider.Meter(meterName), otelmetrics.WithErrorHandler(func(err error) {
		logger.Warn("metric instrument failed", "error", err)
	}))
}
