//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"fmt"
	"sync"
)

// Executable runs one compiled node.
type Executable func(ctx context.Context, nc *NodeContext) (*Result, error)

// Result is what a node hands back to the executor.
type Result struct {
	// Patch is merged into the node's own channel.
	Patch map[string]any
	// Output is recorded on the execution record; when this node is a
	// graph terminal it becomes part of the run output.
	Output any
	// Handle selects the outgoing terminal; empty means default.
	Handle      string
	Tokens      int64
	EmbedTokens int64
}

// Unit is a compiled node.
type Unit struct {
	Execute Executable
	// Handles lists the named terminals besides the default one.
	Handles []string
	// Reads are selectors the node resolves besides the {{...}} references
	// found in its entity.
	Reads []Selector
	// ExplicitReads turns off the scan of the entity for {{...}}
	// references; only Reads are validated. Template nodes set it since
	// their actions share the braces.
	ExplicitReads bool
	// Subgraph is the compiled body of a group node.
	Subgraph *CompiledGraph
}

// CompileContext is handed to strategies while compiling.
type CompileContext struct {
	Graph *Graph
	// Subgraph is set for group nodes, compiled before the node itself.
	Subgraph *CompiledGraph
	// Capabilities are the nodes attached to this one by capability
	// connections, such as toolsets and knowledge bases of an agent.
	Capabilities []*Node
}

// Strategy compiles one node type.
type Strategy interface {
	Compile(ctx context.Context, node *Node, cc *CompileContext) (*Unit, error)
	OutputVariables(node *Node) ([]Parameter, error)
}

// Registry maps node types to strategies. Strategies are registered once at
// process start.
type Registry struct {
	mu         sync.RWMutex
	strategies map[NodeType]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[NodeType]Strategy)}
}

// Register binds s to t.
func (r *Registry) Register(t NodeType, s Strategy) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, t)
	}
	r.strategies[t] = s
	return nil
}

// MustRegister is Register that panics, for use in init code.
func (r *Registry) MustRegister(t NodeType, s Strategy) {
	if err := r.Register(t, s); err != nil {
		panic(err)
	}
}

// Lookup returns the strategy for t.
func (r *Registry) Lookup(t NodeType) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, t)
	}
	return s, nil
}

// Compile compiles node with the strategy registered for its type.
func (r *Registry) Compile(ctx context.Context, node *Node, cc *CompileContext) (*Unit, error) {
	s, err := r.Lookup(node.Type)
	if err != nil {
		return nil, err
	}
	u, err := s.Compile(ctx, node, cc)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u = &Unit{}
	}
	return u, nil
}

// OutputVariables returns the declared outputs of node.
func (r *Registry) OutputVariables(node *Node) ([]Parameter, error) {
	s, err := r.Lookup(node.Type)
	if err != nil {
		return nil, err
	}
	return s.OutputVariables(node)
}
