//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package codeexecutor declares the sandbox used by code nodes.
package codeexecutor

import (
	"context"
	"encoding/json"
	"strings"
)

// CodeExecutor runs one script with JSON inputs.
type CodeExecutor interface {
	ExecuteCode(ctx context.Context, input CodeExecutionInput) (CodeExecutionResult, error)
}

// CodeExecutionInput is the script and the variables it can read.
type CodeExecutionInput struct {
	Language    string
	Code        string
	Inputs      map[string]any
	ExecutionID string
}

// CodeExecutionResult is what the script printed.
type CodeExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// JSONOutput decodes the last non-empty stdout line as a JSON object. When
// the script did not print an object the trimmed stdout is returned under
// "result".
func (r CodeExecutionResult) JSONOutput() map[string]any {
	out := strings.TrimSpace(r.Stdout)
	lines := strings.Split(out, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err == nil {
		return m
	}
	return map[string]any{"result": out}
}
