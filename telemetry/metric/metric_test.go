//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInstruments_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	ins, err := NewInstruments(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	ins.RecordRun(ctx, "success")
	ins.RecordNode(ctx, "ifElse", "success", 0.01)
	ins.RecordTokens(ctx, "agent", 12)
	ins.RecordTokens(ctx, "agent", 0)
	ins.RecordCompile(ctx, true)
	ins.RecordInterrupt(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, n := range []string{"xpert.runs", "xpert.node.runs", "xpert.node.duration",
		"xpert.tokens", "xpert.compile.cache", "xpert.interrupts"} {
		assert.True(t, names[n], n)
	}
}

func TestInstruments_NilSafe(t *testing.T) {
	var ins *Instruments
	ins.RecordRun(context.Background(), "error")
	ins.RecordNode(context.Background(), "code", "error", 1)
}

func TestStart_HTTP(t *testing.T) {
	old := Meter
	defer func() { Meter = old }()
	clean, err := Start(context.Background(), WithProtocol("http"), WithEndpoint("127.0.0.1:4318"))
	require.NoError(t, err)
	assert.NotEqual(t, old, Meter)
	_ = clean()
}

func TestNoopMeterInstruments(t *testing.T) {
	ins, err := NewInstruments(Meter)
	require.NoError(t, err)
	ins.RecordRun(context.Background(), "success")
}
