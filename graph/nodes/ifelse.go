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

type ifElseCase struct {
	CaseID          string      `json:"caseId"`
	LogicalOperator string      `json:"logicalOperator,omitempty"`
	Conditions      []Condition `json:"conditions"`
}

type ifElseEntity struct {
	Cases []ifElseCase `json:"cases"`
}

// ifElseStrategy follows the handle of the first matching case, or else.
type ifElseStrategy struct{}

func (ifElseStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[ifElseEntity](n)
	if err != nil {
		return nil, err
	}
	handles := []string{graph.HandleElse}
	var reads []graph.Selector
	seen := map[string]bool{graph.HandleElse: true}
	for i, c := range ent.Cases {
		if c.CaseID == "" {
			return nil, fmt.Errorf("ifElse %s: case %d has no id", n.Key, i)
		}
		if seen[c.CaseID] {
			return nil, fmt.Errorf("ifElse %s: duplicate case %s", n.Key, c.CaseID)
		}
		seen[c.CaseID] = true
		handles = append(handles, c.CaseID)
		if err := validateConditions(c.Conditions, c.LogicalOperator); err != nil {
			return nil, fmt.Errorf("ifElse %s: case %s: %w", n.Key, c.CaseID, err)
		}
		for _, cond := range c.Conditions {
			sel, err := parseSelector("variableSelector", cond.Variable)
			if err != nil {
				return nil, fmt.Errorf("ifElse %s: case %s: %w", n.Key, c.CaseID, err)
			}
			reads = append(reads, sel)
		}
	}
	return &graph.Unit{Handles: handles, Reads: reads, Execute: func(_ context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		for _, c := range ent.Cases {
			ok := matchAll(c.Conditions, c.LogicalOperator, func(cond Condition) bool {
				sel, _ := graph.ParseSelector(cond.Variable)
				actual, _ := nc.State.Select(sel)
				return compare(cond.Operator, actual, renderValue(nc, cond.Value))
			})
			if ok {
				return &graph.Result{Patch: map[string]any{"result": c.CaseID}, Output: c.CaseID, Handle: c.CaseID}, nil
			}
		}
		return &graph.Result{Patch: map[string]any{"result": graph.HandleElse}, Output: graph.HandleElse, Handle: graph.HandleElse}, nil
	}}, nil
}

func (ifElseStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{{Name: "result", Type: graph.ParamString}}, nil
}
