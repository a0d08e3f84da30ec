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
	"encoding/json"
	"fmt"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/tool"
)

// retriever marks tools whose calls are reported as RETRIEVER events.
type retriever interface {
	retriever()
}

// invokeTool validates and runs one call. Lifecycle events are scoped by
// the call id so that repeated calls of a tool stay distinct.
func invokeTool(ctx context.Context, nc *graph.NodeContext, t tool.CallableTool, call execution.ToolCall) (any, error) {
	start, end, fail := event.KindToolStart, event.KindToolEnd, event.KindToolError
	if _, ok := t.(retriever); ok {
		start, end, fail = event.KindRetrieverStart, event.KindRetrieverEnd, event.KindRetrieverError
	}
	name := t.Declaration().Name
	nc.EmitScoped(ctx, start, name, call.ID, call)
	args, err := json.Marshal(call.Args)
	if err != nil {
		nc.EmitScoped(ctx, fail, name, call.ID, err.Error())
		return nil, fmt.Errorf("tool %s: encode arguments: %w", name, err)
	}
	if err := tool.ValidateArgs(t.Declaration(), args); err != nil {
		nc.EmitScoped(ctx, fail, name, call.ID, err.Error())
		return nil, err
	}
	res, err := t.Call(ctx, args)
	if err != nil {
		nc.EmitScoped(ctx, fail, name, call.ID, err.Error())
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	res = plain(res)
	nc.EmitScoped(ctx, end, name, call.ID, res)
	return res, nil
}

type toolEntity struct {
	Toolset    string         `json:"toolset,omitempty"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// toolStrategy calls one catalog tool with rendered parameters. It asks for
// confirmation when the node or the tool is listed in interruptBefore.
type toolStrategy struct {
	catalog *tool.Catalog
}

func (s *toolStrategy) lookup(ent *toolEntity) (tool.CallableTool, error) {
	if s.catalog == nil {
		return nil, fmt.Errorf("tool catalog: %w", errMissingDep)
	}
	var found tool.Tool
	if ent.Toolset != "" {
		matched, err := s.catalog.Match(ent.Toolset, []string{ent.Tool})
		if err != nil {
			return nil, err
		}
		if len(matched) > 0 {
			found = matched[0]
		}
	} else if t, ok := s.catalog.Get(ent.Tool); ok {
		found = t
	}
	if found == nil {
		return nil, fmt.Errorf("tool %s not found", ent.Tool)
	}
	callable, ok := found.(tool.CallableTool)
	if !ok {
		return nil, fmt.Errorf("tool %s is not callable", ent.Tool)
	}
	return callable, nil
}

func (s *toolStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[toolEntity](n)
	if err != nil {
		return nil, err
	}
	t, err := s.lookup(ent)
	if err != nil {
		return nil, fmt.Errorf("tool node %s: %w", n.Key, err)
	}
	name := t.Declaration().Name
	return &graph.Unit{Execute: func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		args, _ := renderValue(nc, ent.Parameters).(map[string]any)
		call := execution.ToolCall{ID: nc.ExecutionID, Name: name, Args: args}
		approval, decided := nc.Resumption()
		if !decided && nc.Sensitive(nc.Node.Key, name) {
			var err error
			approval, err = nc.Confirm(&execution.Operation{
				NodeKey:   nc.Node.Key,
				ToolCalls: []execution.ToolCallEntry{{Call: call}},
			})
			if err != nil {
				return nil, err
			}
			decided = true
		}
		if decided {
			if approval.Rejected {
				patch := map[string]any{"result": nil, "rejected": true}
				return &graph.Result{Patch: patch, Output: patch}, nil
			}
			if calls := approval.Operation.ToolCalls; len(calls) > 0 {
				call.Args = calls[0].Call.Args
			}
		}
		res, err := invokeTool(ctx, nc, t, call)
		if err != nil {
			return nil, err
		}
		return &graph.Result{Patch: map[string]any{"result": res, "rejected": false}, Output: res}, nil
	}}, nil
}

func (s *toolStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{
		{Name: "result", Type: graph.ParamAny},
		{Name: "rejected", Type: graph.ParamBoolean},
	}, nil
}

type toolsetEntity struct {
	Toolset string `json:"toolset"`
	// Tools are doublestar patterns over tool names; empty means all.
	Tools []string `json:"tools,omitempty"`
}

// toolsetStrategy is a capability: agents attached to it get the matching
// tools. Run on its own it reports the tool names.
type toolsetStrategy struct {
	catalog *tool.Catalog
}

func (s *toolsetStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	tools, err := toolsetTools(s.catalog, n)
	if err != nil {
		return nil, err
	}
	names := make([]any, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Declaration().Name)
	}
	return &graph.Unit{Execute: func(context.Context, *graph.NodeContext) (*graph.Result, error) {
		return &graph.Result{Patch: map[string]any{"tools": names}, Output: names}, nil
	}}, nil
}

func (s *toolsetStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{{Name: "tools", Type: graph.ParamArray}}, nil
}

func toolsetTools(catalog *tool.Catalog, n *graph.Node) ([]tool.CallableTool, error) {
	if catalog == nil {
		return nil, fmt.Errorf("toolset %s: tool catalog: %w", n.Key, errMissingDep)
	}
	ent, err := decode[toolsetEntity](n)
	if err != nil {
		return nil, err
	}
	if ent.Toolset == "" {
		return nil, fmt.Errorf("toolset %s: no toolset name", n.Key)
	}
	matched, err := catalog.Match(ent.Toolset, ent.Tools)
	if err != nil {
		return nil, fmt.Errorf("toolset %s: %w", n.Key, err)
	}
	out := make([]tool.CallableTool, 0, len(matched))
	for _, t := range matched {
		if c, ok := t.(tool.CallableTool); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// plain converts tool results to the JSON shapes state selectors walk.
func plain(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, int, int64, map[string]any, []any:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}
