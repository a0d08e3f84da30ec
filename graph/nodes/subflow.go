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

	"github.com/xpert-ai/xpert-sub002/graph"
)

// MaxSubflowDepth stops subflows that end up calling themselves.
const MaxSubflowDepth = 8

type subflowEntity struct {
	XpertID string `json:"xpertId"`
	// Inputs seed the sys channel of the nested run.
	Inputs []Variable `json:"inputs,omitempty"`
}

type depthKey struct{}

// subflowStrategy runs the graph of another xpert nested under this node.
// The graph is loaded and compiled when the node runs, so edits to the
// callee take effect without recompiling the caller.
type subflowStrategy struct {
	loader   GraphLoader
	compiler *graph.Compiler
}

func newSubflowStrategy(reg *graph.Registry, loader GraphLoader) *subflowStrategy {
	return &subflowStrategy{
		loader:   loader,
		compiler: graph.NewCompiler(reg, graph.WithCompileCache(graph.NewCompileCache(64))),
	}
}

func (s *subflowStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	if s.loader == nil {
		return nil, fmt.Errorf("subflow %s: graph loader: %w", n.Key, errMissingDep)
	}
	ent, err := decode[subflowEntity](n)
	if err != nil {
		return nil, err
	}
	if ent.XpertID == "" {
		return nil, fmt.Errorf("subflow %s: no xpertId", n.Key)
	}
	reads, err := variableReads(ent.Inputs)
	if err != nil {
		return nil, fmt.Errorf("subflow %s: %w", n.Key, err)
	}
	return &graph.Unit{Reads: reads, Execute: func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		depth, _ := ctx.Value(depthKey{}).(int)
		if depth >= MaxSubflowDepth {
			return nil, fmt.Errorf("subflow %s: nesting deeper than %d", nc.Node.Key, MaxSubflowDepth)
		}
		ctx = context.WithValue(ctx, depthKey{}, depth+1)
		g, err := s.loader.LoadGraph(ctx, ent.XpertID)
		if err != nil {
			return nil, fmt.Errorf("subflow %s: load %s: %w", nc.Node.Key, ent.XpertID, err)
		}
		cg, err := s.compiler.Compile(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("subflow %s: compile %s: %w", nc.Node.Key, ent.XpertID, err)
		}
		var r *graph.ScopeResult
		if prior := nc.Suspended(); prior != nil && prior.Suspended[ent.XpertID] != nil {
			r, err = nc.ResumeSubgraph(ctx, cg, ent.XpertID, prior.Suspended[ent.XpertID])
		} else {
			r, err = nc.RunSubgraph(ctx, cg, graph.NewState(resolveVariables(nc, ent.Inputs)), ent.XpertID)
		}
		if ie, ok := graph.AsInterrupt(err); ok && ie.Scope != nil {
			return nil, &graph.InterruptError{
				NodeKey:   ie.NodeKey,
				Operation: ie.Operation,
				Path:      ie.Path,
				Group:     &graph.GroupState{Suspended: map[string]*graph.ScopeState{ent.XpertID: ie.Scope}},
			}
		}
		if err != nil {
			return nil, err
		}
		return &graph.Result{Patch: map[string]any{"output": r.Output}, Output: r.Output}, nil
	}}, nil
}

func (s *subflowStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{{Name: "output", Type: graph.ParamAny}}, nil
}
