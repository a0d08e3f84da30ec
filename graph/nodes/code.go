//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/xpert-ai/xpert-sub002/codeexecutor"
	"github.com/xpert-ai/xpert-sub002/graph"
)

type codeEntity struct {
	Language string            `json:"language"`
	Code     string            `json:"code"`
	Inputs   []Variable        `json:"inputs,omitempty"`
	Outputs  []graph.Parameter `json:"outputs,omitempty"`
}

// codeStrategy runs a script with its inputs exported as JSON. The last
// stdout line is parsed as a JSON object; other output lands in result.
type codeStrategy struct {
	executor codeexecutor.CodeExecutor
}

func (s *codeStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	if s.executor == nil {
		return nil, fmt.Errorf("code %s: code executor: %w", n.Key, errMissingDep)
	}
	ent, err := decode[codeEntity](n)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(ent.Code) == "" {
		return nil, fmt.Errorf("code %s: empty code", n.Key)
	}
	reads, err := variableReads(ent.Inputs)
	if err != nil {
		return nil, fmt.Errorf("code %s: %w", n.Key, err)
	}
	return &graph.Unit{Reads: reads, Execute: func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		res, err := s.executor.ExecuteCode(ctx, codeexecutor.CodeExecutionInput{
			Language:    ent.Language,
			Code:        ent.Code,
			Inputs:      resolveVariables(nc, ent.Inputs),
			ExecutionID: nc.ExecutionID,
		})
		if err != nil {
			return nil, fmt.Errorf("code %s: %w", nc.Node.Key, err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("code %s: exit code %d: %s", nc.Node.Key, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		out := res.JSONOutput()
		if res.Stderr != "" {
			out["logs"] = res.Stderr
		}
		return &graph.Result{Patch: out, Output: out}, nil
	}}, nil
}

func (s *codeStrategy) OutputVariables(n *graph.Node) ([]graph.Parameter, error) {
	ent, err := decode[codeEntity](n)
	if err != nil {
		return nil, err
	}
	return append([]graph.Parameter{
		{Name: "result", Type: graph.ParamAny},
		{Name: "logs", Type: graph.ParamString},
	}, ent.Outputs...), nil
}
