//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds names and helpers shared by the trace and metric packages.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "xpertd"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "xpert"
	InstrumentName   = "xpert.workflow"

	SpanNameRun             = "run_graph"
	SpanNamePrefixExecNode  = "execute_node"
	SpanNamePrefixExecTool  = "execute_tool"
	SpanNameCompile         = "compile_graph"
	SpanNameResume          = "resume_graph"
	SpanNamePrefixSubflow   = "subflow"
	SpanNamePrefixRetriever = "retrieve"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attributes constants.
var (
	KeyExecutionID = "xpert.execution_id"
	KeyThreadID    = "xpert.thread_id"
	KeyXpertID     = "xpert.xpert_id"
	KeyNodeKey     = "xpert.node.key"
	KeyNodeType    = "xpert.node.type"
	KeyStep        = "xpert.step"
	KeyToolName    = "xpert.tool.name"
	KeyStatus      = "xpert.status"
)

// TraceNode annotates span with the identity of a node execution.
func TraceNode(span trace.Span, executionID, nodeKey, nodeType string, step int) {
	span.SetAttributes(
		attribute.String(KeyExecutionID, executionID),
		attribute.String(KeyNodeKey, nodeKey),
		attribute.String(KeyNodeType, nodeType),
		attribute.Int(KeyStep, step),
	)
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Note the use of insecure transport here. TLS is recommended in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
