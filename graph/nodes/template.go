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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/xpert-ai/xpert-sub002/graph"
)

type templateEntity struct {
	Template  string     `json:"template"`
	Variables []Variable `json:"variables,omitempty"`
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"join": func(sep string, v any) string {
		list, _ := toList(v)
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i] = graph.Stringify(e)
		}
		return strings.Join(parts, sep)
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// templateStrategy renders a text/template. The data is the map of the
// declared variables; .state holds a snapshot of every channel.
type templateStrategy struct{}

func (templateStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[templateEntity](n)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(n.Key).Funcs(templateFuncs).Option("missingkey=zero").Parse(ent.Template)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", n.Key, err)
	}
	reads, err := variableReads(ent.Variables)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", n.Key, err)
	}
	return &graph.Unit{Reads: reads, ExplicitReads: true, Execute: func(_ context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		data := resolveVariables(nc, ent.Variables)
		if _, ok := data["state"]; !ok {
			data["state"] = nc.State.Snapshot()
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("template %s: %w", nc.Node.Key, err)
		}
		out := buf.String()
		return &graph.Result{Patch: map[string]any{"output": out}, Output: out}, nil
	}}, nil
}

func (templateStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{{Name: "output", Type: graph.ParamString}}, nil
}

type aggregatorGroup struct {
	Name      string   `json:"name"`
	Variables []string `json:"variables"`
}

type aggregatorEntity struct {
	Variables []string          `json:"variables,omitempty"`
	Groups    []aggregatorGroup `json:"groups,omitempty"`
}

func (e *aggregatorEntity) groups() []aggregatorGroup {
	if len(e.Groups) > 0 {
		return e.Groups
	}
	return []aggregatorGroup{{Name: "output", Variables: e.Variables}}
}

// aggregatorStrategy picks, per group, the first selector with a value. It
// joins branches where only one side ran.
type aggregatorStrategy struct{}

func (aggregatorStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[aggregatorEntity](n)
	if err != nil {
		return nil, err
	}
	type group struct {
		name string
		sels []graph.Selector
	}
	var groups []group
	var reads []graph.Selector
	for _, g := range ent.groups() {
		if g.Name == "" {
			return nil, fmt.Errorf("variableAggregator %s: group without name", n.Key)
		}
		gr := group{name: g.Name}
		for _, v := range g.Variables {
			sel, err := parseSelector("variables", v)
			if err != nil {
				return nil, fmt.Errorf("variableAggregator %s: %w", n.Key, err)
			}
			gr.sels = append(gr.sels, sel)
		}
		reads = append(reads, gr.sels...)
		groups = append(groups, gr)
	}
	return &graph.Unit{Reads: reads, Execute: func(_ context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		patch := make(map[string]any, len(groups))
		for _, g := range groups {
			patch[g.name] = nil
			for _, sel := range g.sels {
				if v, ok := nc.State.Select(sel); ok && !isEmpty(v) {
					patch[g.name] = v
					break
				}
			}
		}
		var out any = patch
		if len(ent.Groups) == 0 {
			out = patch["output"]
		}
		return &graph.Result{Patch: patch, Output: out}, nil
	}}, nil
}

func (aggregatorStrategy) OutputVariables(n *graph.Node) ([]graph.Parameter, error) {
	ent, err := decode[aggregatorEntity](n)
	if err != nil {
		return nil, err
	}
	var params []graph.Parameter
	for _, g := range ent.groups() {
		params = append(params, graph.Parameter{Name: g.Name, Type: graph.ParamAny})
	}
	return params, nil
}
