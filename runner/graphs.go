//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xpert-ai/xpert-sub002/graph"
)

// ErrUnknownXpert is returned for xpert ids no graph is registered for.
var ErrUnknownXpert = errors.New("runner: unknown xpert")

// Graphs is an in-memory catalog of xpert graphs. It also serves subflow
// nodes as their graph loader.
type Graphs struct {
	mu     sync.RWMutex
	graphs map[string]*graph.Graph
}

// NewGraphs creates an empty catalog.
func NewGraphs() *Graphs {
	return &Graphs{graphs: make(map[string]*graph.Graph)}
}

// Put registers or replaces the graph of xpertID.
func (g *Graphs) Put(xpertID string, gr *graph.Graph) error {
	if xpertID == "" {
		return fmt.Errorf("runner: empty xpert id")
	}
	if err := gr.Validate(); err != nil {
		return fmt.Errorf("runner: graph %s: %w", xpertID, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.graphs[xpertID] = gr
	return nil
}

// LoadGraph returns the graph of xpertID.
func (g *Graphs) LoadGraph(_ context.Context, xpertID string) (*graph.Graph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	gr, ok := g.graphs[xpertID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownXpert, xpertID)
	}
	return gr, nil
}

// IDs lists the registered xpert ids in order.
func (g *Graphs) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.graphs))
	for id := range g.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadDir registers every .json, .yaml and .yml file of dir under its base
// name without extension.
func (g *Graphs) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("runner: read graphs: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		var decode func([]byte) (*graph.Graph, error)
		switch ext {
		case ".json":
			decode = graph.Decode
		case ".yaml", ".yml":
			decode = graph.DecodeYAML
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, fmt.Errorf("runner: read %s: %w", e.Name(), err)
		}
		gr, err := decode(data)
		if err != nil {
			return n, fmt.Errorf("runner: decode %s: %w", e.Name(), err)
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if gr.ID != "" {
			id = gr.ID
		}
		if err := g.Put(id, gr); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
