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
	"maps"

	"github.com/xpert-ai/xpert-sub002/graph"
)

type triggerEntity struct {
	Parameters []graph.Parameter `json:"parameters,omitempty"`
}

// triggerStrategy starts a graph by copying the run inputs into its channel.
type triggerStrategy struct{}

func (triggerStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[triggerEntity](n)
	if err != nil {
		return nil, err
	}
	return &graph.Unit{Execute: func(_ context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		sys, _ := nc.State.Read(graph.SysChannel, "")
		in, _ := sys.(map[string]any)
		patch := make(map[string]any, len(in)+len(ent.Parameters))
		for _, p := range ent.Parameters {
			patch[p.Name] = nil
		}
		maps.Copy(patch, in)
		return &graph.Result{Patch: patch, Output: in}, nil
	}}, nil
}

func (triggerStrategy) OutputVariables(n *graph.Node) ([]graph.Parameter, error) {
	ent, err := decode[triggerEntity](n)
	if err != nil {
		return nil, err
	}
	return append([]graph.Parameter{{Name: "input", Type: graph.ParamAny}}, ent.Parameters...), nil
}

type answerEntity struct {
	Template string `json:"template"`
}

// answerStrategy renders the reply and streams it to the caller.
type answerStrategy struct{}

func (answerStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[answerEntity](n)
	if err != nil {
		return nil, err
	}
	return &graph.Unit{Execute: func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		text := nc.Render(ent.Template)
		nc.EmitMessage(ctx, text)
		return &graph.Result{Patch: map[string]any{"answer": text}, Output: text}, nil
	}}, nil
}

func (answerStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{{Name: "answer", Type: graph.ParamString}}, nil
}
