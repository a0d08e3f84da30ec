//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metric wires OpenTelemetry metrics for graph runs.
package metric

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	itelemetry "github.com/xpert-ai/xpert-sub002/internal/telemetry"
)

var (
	// Meter is the global OpenTelemetry meter. It is a no-op until Start runs.
	Meter metric.Meter = noopm.Meter{}
)

// Start collects metrics through an OTLP exporter and replaces Meter.
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT and OTEL_EXPORTER_OTLP_ENDPOINT are
// honoured when WithEndpoint is not passed.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	o := &options{
		metricsEndpoint:  metricsEndpoint(),
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
	}
	for _, opt := range opts {
		opt(o)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(o.serviceNamespace),
			semconv.ServiceName(o.serviceName),
			semconv.ServiceVersion(o.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch o.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(o.metricsEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		exporter, err = newGRPCExporter(ctx, o.metricsEndpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	Meter = mp.Meter(itelemetry.InstrumentName)

	return func() error {
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown MeterProvider: %w", err)
		}
		return nil
	}, nil
}

func newGRPCExporter(ctx context.Context, endpoint string) (sdkmetric.Exporter, error) {
	conn, err := itelemetry.NewGRPCConn(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics connection: %w", err)
	}
	return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
}

func metricsEndpoint() string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "localhost:4317"
}

// Option is a function that configures meter options.
type Option func(*options)

type options struct {
	metricsEndpoint  string
	protocol         string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
}

// WithProtocol selects the exporter protocol, grpc (default) or http.
func WithProtocol(protocol string) Option {
	return func(o *options) {
		o.protocol = protocol
	}
}

// WithEndpoint sets the metrics collector host:port.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.metricsEndpoint = endpoint
	}
}

// Instruments groups the counters and histograms recorded by the runtime.
type Instruments struct {
	Runs         metric.Int64Counter
	NodeRuns     metric.Int64Counter
	NodeLatency  metric.Float64Histogram
	Tokens       metric.Int64Counter
	CompileCache metric.Int64Counter
	Interrupts   metric.Int64Counter
}

// NewInstruments creates the runtime instruments on m.
func NewInstruments(m metric.Meter) (*Instruments, error) {
	var (
		ins Instruments
		err error
	)
	if ins.Runs, err = m.Int64Counter("xpert.runs",
		metric.WithDescription("Graph runs by final status.")); err != nil {
		return nil, err
	}
	if ins.NodeRuns, err = m.Int64Counter("xpert.node.runs",
		metric.WithDescription("Node executions by type and status.")); err != nil {
		return nil, err
	}
	if ins.NodeLatency, err = m.Float64Histogram("xpert.node.duration",
		metric.WithDescription("Node execution latency."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if ins.Tokens, err = m.Int64Counter("xpert.tokens",
		metric.WithDescription("Model tokens consumed by nodes.")); err != nil {
		return nil, err
	}
	if ins.CompileCache, err = m.Int64Counter("xpert.compile.cache",
		metric.WithDescription("Compile cache lookups by result.")); err != nil {
		return nil, err
	}
	if ins.Interrupts, err = m.Int64Counter("xpert.interrupts",
		metric.WithDescription("Runs suspended for human confirmation.")); err != nil {
		return nil, err
	}
	return &ins, nil
}

// RecordNode records one node execution.
func (i *Instruments) RecordNode(ctx context.Context, nodeType, status string, seconds float64) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("node_type", nodeType),
		attribute.String("status", status),
	)
	i.NodeRuns.Add(ctx, 1, attrs)
	i.NodeLatency.Record(ctx, seconds, metric.WithAttributes(attribute.String("node_type", nodeType)))
}

// RecordRun records the final status of a run.
func (i *Instruments) RecordRun(ctx context.Context, status string) {
	if i == nil {
		return
	}
	i.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTokens adds model tokens.
func (i *Instruments) RecordTokens(ctx context.Context, nodeType string, n int64) {
	if i == nil || n <= 0 {
		return
	}
	i.Tokens.Add(ctx, n, metric.WithAttributes(attribute.String("node_type", nodeType)))
}

// RecordCompile records a compile cache lookup.
func (i *Instruments) RecordCompile(ctx context.Context, hit bool) {
	if i == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	i.CompileCache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordInterrupt counts a suspension.
func (i *Instruments) RecordInterrupt(ctx context.Context) {
	if i == nil {
		return
	}
	i.Interrupts.Add(ctx, 1)
}
