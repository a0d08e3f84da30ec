//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package nodes holds the strategies of every node type. Register installs
// them into a registry once at process start.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xpert-ai/xpert-sub002/codeexecutor"
	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/knowledge"
	"github.com/xpert-ai/xpert-sub002/knowledge/document"
	"github.com/xpert-ai/xpert-sub002/model"
	"github.com/xpert-ai/xpert-sub002/tool"
)

// GraphLoader resolves the graph of another xpert for subflow nodes.
type GraphLoader interface {
	LoadGraph(ctx context.Context, xpertID string) (*graph.Graph, error)
}

// GraphLoaderFunc adapts a function to GraphLoader.
type GraphLoaderFunc func(ctx context.Context, xpertID string) (*graph.Graph, error)

// LoadGraph implements GraphLoader.
func (f GraphLoaderFunc) LoadGraph(ctx context.Context, xpertID string) (*graph.Graph, error) {
	return f(ctx, xpertID)
}

// Ingester is a knowledge base that accepts documents.
type Ingester interface {
	Ingest(ctx context.Context, docs []*document.Document, cancelled func() bool) ([]knowledge.IngestResult, error)
}

// Deps are the collaborators strategies call at run time. Missing
// collaborators only fail the node types that need them, at compile time.
type Deps struct {
	Models       model.Provider
	Tools        *tool.Catalog
	Knowledge    knowledge.Resolver
	CodeExecutor codeexecutor.CodeExecutor
	HTTPClient   *http.Client
	Graphs       GraphLoader
}

var errMissingDep = errors.New("nodes: dependency not configured")

// Register installs the strategy of every compilable node type.
func Register(reg *graph.Registry, deps Deps) error {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	strategies := map[graph.NodeType]graph.Strategy{
		graph.NodeTypeTrigger:            triggerStrategy{},
		graph.NodeTypeAnswer:             answerStrategy{},
		graph.NodeTypeIfElse:             ifElseStrategy{},
		graph.NodeTypeIterator:           iteratorStrategy{},
		graph.NodeTypeCode:               &codeStrategy{executor: deps.CodeExecutor},
		graph.NodeTypeHTTP:               &httpStrategy{client: deps.HTTPClient},
		graph.NodeTypeClassifier:         &classifierStrategy{models: deps.Models},
		graph.NodeTypeAssigner:           assignerStrategy{},
		graph.NodeTypeTool:               &toolStrategy{catalog: deps.Tools},
		graph.NodeTypeAgent:              &agentStrategy{deps: deps},
		graph.NodeTypeToolset:            &toolsetStrategy{catalog: deps.Tools},
		graph.NodeTypeKnowledge:          &knowledgeStrategy{resolver: deps.Knowledge},
		graph.NodeTypeKnowledgeBase:      &knowledgeBaseStrategy{resolver: deps.Knowledge},
		graph.NodeTypeSubflow:            newSubflowStrategy(reg, deps.Graphs),
		graph.NodeTypeTemplate:           templateStrategy{},
		graph.NodeTypeVariableAggregator: aggregatorStrategy{},
		graph.NodeTypeListOperator:       listOperatorStrategy{},
	}
	for t, s := range strategies {
		if err := reg.Register(t, s); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with every strategy installed.
func NewRegistry(deps Deps) (*graph.Registry, error) {
	reg := graph.NewRegistry()
	if err := Register(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}

// Variable is a named input: a selector into the state or a literal value.
// String literals are rendered as templates.
type Variable struct {
	Name     string `json:"name"`
	Selector string `json:"variableSelector,omitempty"`
	Value    any    `json:"value,omitempty"`
}

func (v Variable) selector() (graph.Selector, bool) {
	if v.Selector == "" {
		return graph.Selector{}, false
	}
	return graph.ParseSelector(v.Selector)
}

func (v Variable) resolve(nc *graph.NodeContext) any {
	if sel, ok := v.selector(); ok {
		val, _ := nc.State.Select(sel)
		return val
	}
	return renderValue(nc, v.Value)
}

// renderValue renders string leaves of v. A string that is exactly one
// reference yields the referenced value unchanged.
func renderValue(nc *graph.NodeContext, v any) any {
	switch t := v.(type) {
	case string:
		trimmed := strings.TrimSpace(t)
		if refs := graph.References(trimmed); len(refs) == 1 && strings.HasPrefix(trimmed, "{{") &&
			strings.HasSuffix(trimmed, "}}") && strings.Count(trimmed, "{{") == 1 {
			val, _ := nc.State.Select(refs[0])
			return val
		}
		return nc.Render(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = renderValue(nc, e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = renderValue(nc, e)
		}
		return out
	default:
		return v
	}
}

func resolveVariables(nc *graph.NodeContext, vars []Variable) map[string]any {
	out := make(map[string]any, len(vars))
	for _, v := range vars {
		out[v.Name] = v.resolve(nc)
	}
	return out
}

func variableReads(vars []Variable) ([]graph.Selector, error) {
	var sels []graph.Selector
	for _, v := range vars {
		if v.Selector == "" {
			continue
		}
		sel, ok := v.selector()
		if !ok {
			return nil, fmt.Errorf("variable %s: bad selector %q", v.Name, v.Selector)
		}
		sels = append(sels, sel)
	}
	return sels, nil
}

func parseSelector(field, s string) (graph.Selector, error) {
	sel, ok := graph.ParseSelector(s)
	if !ok {
		return graph.Selector{}, fmt.Errorf("%s: bad selector %q", field, s)
	}
	return sel, nil
}

// decode reads the entity of n into v.
func decode[T any](n *graph.Node) (*T, error) {
	v := new(T)
	if err := n.DecodeEntity(v); err != nil {
		return nil, err
	}
	return v, nil
}

func toList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, true
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, true
	case nil:
		return nil, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
