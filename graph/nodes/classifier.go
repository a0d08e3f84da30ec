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

	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/model"
)

type category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type classifierEntity struct {
	Model       string     `json:"model"`
	Input       string     `json:"input"`
	Instruction string     `json:"instruction,omitempty"`
	Categories  []category `json:"categories"`
}

const classifierPrompt = `Classify the user input into exactly one of the categories below.
Answer with the category id only.
%s
Categories:
%s`

// classifierStrategy asks a model to pick a category and follows the
// handle named by its id.
type classifierStrategy struct {
	models model.Provider
}

func (s *classifierStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[classifierEntity](n)
	if err != nil {
		return nil, err
	}
	if len(ent.Categories) == 0 {
		return nil, fmt.Errorf("classifier %s: no categories", n.Key)
	}
	m, err := resolveModel(s.models, ent.Model)
	if err != nil {
		return nil, fmt.Errorf("classifier %s: %w", n.Key, err)
	}
	handles := make([]string, 0, len(ent.Categories))
	var list strings.Builder
	for _, c := range ent.Categories {
		if c.ID == "" {
			return nil, fmt.Errorf("classifier %s: category without id", n.Key)
		}
		handles = append(handles, c.ID)
		fmt.Fprintf(&list, "- %s: %s", c.ID, c.Name)
		if c.Description != "" {
			fmt.Fprintf(&list, " (%s)", c.Description)
		}
		list.WriteString("\n")
	}
	return &graph.Unit{Handles: handles, Execute: func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		system := fmt.Sprintf(classifierPrompt, nc.Render(ent.Instruction), list.String())
		req := &model.Request{Messages: []model.Message{
			model.NewSystemMessage(system),
			model.NewUserMessage(nc.Render(ent.Input)),
		}}
		g, err := generate(ctx, m, req, nil)
		if err != nil {
			return nil, fmt.Errorf("classifier %s: %w", nc.Node.Key, err)
		}
		c, ok := pickCategory(ent.Categories, g.message.Content)
		if !ok {
			return nil, fmt.Errorf("classifier %s: answer %q matches no category", nc.Node.Key, g.message.Content)
		}
		patch := map[string]any{"category": c.ID, "categoryName": c.Name}
		return &graph.Result{Patch: patch, Output: c.ID, Handle: c.ID, Tokens: g.tokens}, nil
	}}, nil
}

// pickCategory matches the id first, then the name, then an id contained
// in a chatty answer.
func pickCategory(cats []category, answer string) (category, bool) {
	answer = strings.Trim(strings.TrimSpace(answer), "\"'`.")
	for _, c := range cats {
		if strings.EqualFold(c.ID, answer) {
			return c, true
		}
	}
	for _, c := range cats {
		if c.Name != "" && strings.EqualFold(c.Name, answer) {
			return c, true
		}
	}
	for _, c := range cats {
		if strings.Contains(answer, c.ID) {
			return c, true
		}
	}
	return category{}, false
}

func (s *classifierStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{
		{Name: "category", Type: graph.ParamString},
		{Name: "categoryName", Type: graph.ParamString},
	}, nil
}
