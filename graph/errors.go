//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Errors.
var (
	ErrUnknownNodeType     = errors.New("unknown node type")
	ErrDuplicateStrategy   = errors.New("strategy already registered")
	ErrCycleDetected       = errors.New("cycle detected")
	ErrDanglingConnection  = errors.New("dangling connection")
	ErrUnresolvedVariable  = errors.New("unresolved variable")
	ErrInvalidGraph        = errors.New("invalid graph")
	ErrMaxStepsExceeded    = errors.New("max steps exceeded")
	ErrRunCancelled        = errors.New("run cancelled")
	ErrCheckpointNotFound  = errors.New("checkpoint not found")
	ErrThreadIDRequired    = errors.New("thread id is required")
	ErrSubgraphUnavailable = errors.New("subgraph not available")
)

// CompileErrorKind classifies compile failures.
type CompileErrorKind string

// Compile error kinds.
const (
	KindCycle      CompileErrorKind = "cycle"
	KindDangling   CompileErrorKind = "dangling"
	KindUnresolved CompileErrorKind = "unresolved"
	KindUnknown    CompileErrorKind = "unknown_type"
	KindInvalid    CompileErrorKind = "invalid"
)

// CompileError is returned by Compile before anything runs.
type CompileError struct {
	Kind    CompileErrorKind
	NodeKey string
	// Path is the cycle for KindCycle or the selector for KindUnresolved.
	Path []string
	Err  error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("compile")
	if e.NodeKey != "" {
		fmt.Fprintf(&b, " node %s", e.NodeKey)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Path, " -> "))
	}
	return b.String()
}

// Unwrap returns the sentinel.
func (e *CompileError) Unwrap() error { return e.Err }

func compileErr(kind CompileErrorKind, node string, err error, path ...string) *CompileError {
	return &CompileError{Kind: kind, NodeKey: node, Path: path, Err: err}
}

// NodeError wraps a failure of one node execution.
type NodeError struct {
	NodeKey  string
	NodeType NodeType
	Attempts int
	// Panic is set when the node panicked.
	Panic bool
	Err   error
}

func (e *NodeError) Error() string {
	if e.Panic {
		return fmt.Sprintf("node %s (%s) panicked: %v", e.NodeKey, e.NodeType, e.Err)
	}
	return fmt.Sprintf("node %s (%s): %v", e.NodeKey, e.NodeType, e.Err)
}

// Unwrap returns the cause.
func (e *NodeError) Unwrap() error { return e.Err }
