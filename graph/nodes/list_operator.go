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
	"sort"
	"strings"

	"github.com/xpert-ai/xpert-sub002/graph"
)

type listFilter struct {
	Enabled         bool        `json:"enabled"`
	LogicalOperator string      `json:"logicalOperator,omitempty"`
	Conditions      []Condition `json:"conditions"`
}

type listSort struct {
	Enabled bool   `json:"enabled"`
	Key     string `json:"key,omitempty"`
	// Order is asc or desc.
	Order string `json:"order,omitempty"`
}

type listLimit struct {
	Enabled bool `json:"enabled"`
	Size    int  `json:"size"`
}

type listOperatorEntity struct {
	InputVariable string     `json:"inputVariable"`
	FilterBy      listFilter `json:"filterBy"`
	SortBy        listSort   `json:"sortBy"`
	Limit         listLimit  `json:"limit"`
	// Dedupe keeps the first of equal items, compared by DedupeKey.
	Dedupe    bool   `json:"dedupe,omitempty"`
	DedupeKey string `json:"dedupeKey,omitempty"`
}

// listOperatorStrategy filters, dedupes, sorts and limits a list, in
// that order.
type listOperatorStrategy struct{}

func (listOperatorStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[listOperatorEntity](n)
	if err != nil {
		return nil, err
	}
	sel, err := parseSelector("inputVariable", ent.InputVariable)
	if err != nil {
		return nil, fmt.Errorf("listOperator %s: %w", n.Key, err)
	}
	if ent.FilterBy.Enabled {
		if err := validateConditions(ent.FilterBy.Conditions, ent.FilterBy.LogicalOperator); err != nil {
			return nil, fmt.Errorf("listOperator %s: %w", n.Key, err)
		}
	}
	switch strings.ToLower(ent.SortBy.Order) {
	case "", "asc", "desc":
	default:
		return nil, fmt.Errorf("listOperator %s: unknown sort order %q", n.Key, ent.SortBy.Order)
	}
	return &graph.Unit{Reads: []graph.Selector{sel}, Execute: func(_ context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		raw, _ := nc.State.Select(sel)
		list, ok := toList(raw)
		if !ok {
			return nil, fmt.Errorf("listOperator %s: %s is %T, not a list", nc.Node.Key, sel, raw)
		}
		result := operateList(nc, ent, list)
		patch := map[string]any{"result": result, "first": nil, "last": nil}
		if len(result) > 0 {
			patch["first"] = result[0]
			patch["last"] = result[len(result)-1]
		}
		return &graph.Result{Patch: patch, Output: result}, nil
	}}, nil
}

func operateList(nc *graph.NodeContext, ent *listOperatorEntity, list []any) []any {
	out := make([]any, 0, len(list))
	for _, item := range list {
		if ent.FilterBy.Enabled {
			keep := matchAll(ent.FilterBy.Conditions, ent.FilterBy.LogicalOperator, func(c Condition) bool {
				v, _ := lookup(item, c.Key)
				return compare(c.Operator, v, renderValue(nc, c.Value))
			})
			if !keep {
				continue
			}
		}
		out = append(out, item)
	}
	if ent.Dedupe {
		seen := make(map[string]bool, len(out))
		deduped := out[:0]
		for _, item := range out {
			v, _ := lookup(item, ent.DedupeKey)
			k := graph.Stringify(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			deduped = append(deduped, item)
		}
		out = deduped
	}
	if ent.SortBy.Enabled {
		desc := strings.EqualFold(ent.SortBy.Order, "desc")
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := lookup(out[i], ent.SortBy.Key)
			b, _ := lookup(out[j], ent.SortBy.Key)
			if desc {
				return less(b, a)
			}
			return less(a, b)
		})
	}
	if ent.Limit.Enabled && ent.Limit.Size >= 0 && len(out) > ent.Limit.Size {
		out = out[:ent.Limit.Size]
	}
	return out
}

func less(a, b any) bool {
	x, xok := toFloat(a)
	y, yok := toFloat(b)
	if xok && yok {
		return x < y
	}
	return graph.Stringify(a) < graph.Stringify(b)
}

func (listOperatorStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{
		{Name: "result", Type: graph.ParamArray},
		{Name: "first", Type: graph.ParamAny},
		{Name: "last", Type: graph.ParamAny},
	}, nil
}
