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

// Assign operations.
const (
	assignSet    = "set"
	assignAppend = "append"
	assignExtend = "extend"
	assignClear  = "clear"
)

type assignment struct {
	Variable
	// Operation is set (default), append, extend or clear.
	Operation string         `json:"operation,omitempty"`
	Type      graph.ParamType `json:"type,omitempty"`
}

type assignerEntity struct {
	Assigners []assignment `json:"assigners"`
}

// assignerStrategy writes values into named variables of its own channel.
// The channel survives loop iterations of the same state, so append and
// extend accumulate.
type assignerStrategy struct{}

func (assignerStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[assignerEntity](n)
	if err != nil {
		return nil, err
	}
	vars := make([]Variable, len(ent.Assigners))
	for i, a := range ent.Assigners {
		if a.Name == "" {
			return nil, fmt.Errorf("assigner %s: assignment %d has no name", n.Key, i)
		}
		switch a.Operation {
		case "", assignSet, assignAppend, assignExtend, assignClear:
		default:
			return nil, fmt.Errorf("assigner %s: unknown operation %q", n.Key, a.Operation)
		}
		vars[i] = a.Variable
	}
	reads, err := variableReads(vars)
	if err != nil {
		return nil, err
	}
	key := n.Key
	return &graph.Unit{Reads: reads, Execute: func(_ context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		patch := make(map[string]any, len(ent.Assigners))
		for _, a := range ent.Assigners {
			current, ok := patch[a.Name]
			if !ok {
				current, _ = nc.State.Read(key, a.Name)
			}
			val := a.resolve(nc)
			switch a.Operation {
			case assignClear:
				patch[a.Name] = nil
			case assignAppend:
				list, _ := toList(current)
				patch[a.Name] = append(append([]any(nil), list...), val)
			case assignExtend:
				list, _ := toList(current)
				more, ok := toList(val)
				if !ok {
					return nil, fmt.Errorf("assigner %s: extend %s with a non list value", key, a.Name)
				}
				patch[a.Name] = append(append([]any(nil), list...), more...)
			default:
				patch[a.Name] = val
			}
		}
		return &graph.Result{Patch: patch, Output: patch}, nil
	}}, nil
}

func (assignerStrategy) OutputVariables(n *graph.Node) ([]graph.Parameter, error) {
	ent, err := decode[assignerEntity](n)
	if err != nil {
		return nil, err
	}
	params := make([]graph.Parameter, 0, len(ent.Assigners))
	for _, a := range ent.Assigners {
		t := a.Type
		if t == "" {
			t = graph.ParamAny
		}
		if a.Operation == assignAppend || a.Operation == assignExtend {
			t = graph.ParamArray
		}
		params = append(params, graph.Parameter{Name: a.Name, Type: t})
	}
	return params, nil
}
