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
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	itelemetry "github.com/xpert-ai/xpert-sub002/internal/telemetry"
	"github.com/xpert-ai/xpert-sub002/telemetry/metric"
	"github.com/xpert-ai/xpert-sub002/telemetry/trace"
)

// CompiledNode is a node ready to run.
type CompiledNode struct {
	Node   *Node
	Unit   *Unit
	Common Common
	// Next maps a handle to the successor keys, sorted.
	Next         map[string][]string
	Capabilities []*Node
}

// CompiledGraph is the executable form of one scope of a graph: the root
// scope or the body of a group node.
type CompiledGraph struct {
	Hash  string
	Graph *Graph
	// Scope is empty for the root and the group key otherwise.
	Scope     string
	Start     []string
	Nodes     map[string]*CompiledNode
	Terminals []string
}

// Successors returns the nodes wired to handle of key.
func (c *CompiledGraph) Successors(key, handle string) []string {
	n, ok := c.Nodes[key]
	if !ok {
		return nil
	}
	return n.Next[handle]
}

// IsTerminal reports whether key has no outgoing control connection.
func (c *CompiledGraph) IsTerminal(key string) bool {
	n, ok := c.Nodes[key]
	return ok && len(n.Next) == 0
}

// Compiler turns graphs into CompiledGraphs. Compile is deterministic and
// has no side effects, so results are cached by content hash.
type Compiler struct {
	registry    *Registry
	cache       *CompileCache
	instruments *metric.Instruments
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithCompileCache sets the cache; nil disables caching.
func WithCompileCache(c *CompileCache) CompilerOption {
	return func(cp *Compiler) { cp.cache = c }
}

// WithCompilerInstruments records cache hits and misses.
func WithCompilerInstruments(i *metric.Instruments) CompilerOption {
	return func(cp *Compiler) { cp.instruments = i }
}

// NewCompiler creates a compiler with a default sized cache.
func NewCompiler(reg *Registry, opts ...CompilerOption) *Compiler {
	c := &Compiler{registry: reg, cache: NewCompileCache(DefaultCompileCacheSize)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the strategy registry.
func (c *Compiler) Registry() *Registry { return c.registry }

// Compile validates and compiles g.
func (c *Compiler) Compile(ctx context.Context, g *Graph) (*CompiledGraph, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil graph", ErrInvalidGraph)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	hash, err := ContentHash(g)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if cg, ok := c.cache.Get(hash); ok {
			c.instruments.RecordCompile(ctx, true)
			return cg, nil
		}
	}
	c.instruments.RecordCompile(ctx, false)

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCompile)
	defer span.End()
	span.SetAttributes(attribute.String("xpert.graph.hash", hash), attribute.Int("xpert.graph.nodes", len(g.Nodes)))

	cg, err := newCompilation(c.registry, g).run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	cg.Hash = hash
	if c.cache != nil {
		c.cache.Put(hash, cg)
	}
	return cg, nil
}

type link struct {
	handle string
	to     string
}

// compilation holds the indexes of one Compile call.
type compilation struct {
	reg      *Registry
	g        *Graph
	nodes    map[string]*Node
	control  map[string][]link
	incoming map[string]int
	caps     map[string][]*Node
	outputs  map[string][]Parameter
	compiled []*CompiledGraph
}

func newCompilation(reg *Registry, g *Graph) *compilation {
	return &compilation{
		reg:      reg,
		g:        g,
		nodes:    make(map[string]*Node, len(g.Nodes)),
		control:  make(map[string][]link),
		incoming: make(map[string]int),
		caps:     make(map[string][]*Node),
		outputs:  make(map[string][]Parameter),
	}
}

func (c *compilation) run(ctx context.Context) (*CompiledGraph, error) {
	for _, n := range c.g.Nodes {
		c.nodes[n.Key] = n
	}
	if err := c.indexConnections(); err != nil {
		return nil, err
	}
	if len(c.g.StartNodeKeys) == 0 {
		return nil, compileErr(KindInvalid, "", fmt.Errorf("%w: no start node", ErrInvalidGraph))
	}
	for _, k := range c.g.StartNodeKeys {
		n, ok := c.nodes[k]
		if !ok {
			return nil, compileErr(KindDangling, k, fmt.Errorf("%w: start node %s does not exist", ErrDanglingConnection, k))
		}
		if n.ParentID != "" {
			return nil, compileErr(KindInvalid, k, fmt.Errorf("%w: start node inside group %s", ErrInvalidGraph, n.ParentID))
		}
	}
	root, err := c.compileScope(ctx, "", c.g.StartNodeKeys)
	if err != nil {
		return nil, err
	}
	if err := c.checkVariables(); err != nil {
		return nil, err
	}
	return root, nil
}

func isCapability(conn *Connection, src, dst *Node) bool {
	switch {
	case conn.Type == ConnectionToolset || conn.Type == ConnectionXpert:
		return true
	case dst.Type == NodeTypeToolset:
		return true
	case dst.Type == NodeTypeKnowledge && src.Type == NodeTypeAgent:
		return true
	}
	return false
}

func (c *compilation) indexConnections() error {
	conns := append([]*Connection(nil), c.g.Connections...)
	sort.SliceStable(conns, func(i, j int) bool {
		if conns[i].From != conns[j].From {
			return conns[i].From < conns[j].From
		}
		return conns[i].To < conns[j].To
	})
	for _, conn := range conns {
		if conn == nil || conn.Readonly {
			continue
		}
		fromKey, handle := conn.Source()
		src, ok := c.nodes[fromKey]
		if !ok {
			return compileErr(KindDangling, fromKey, fmt.Errorf("%w: %s -> %s: unknown source", ErrDanglingConnection, conn.From, conn.To))
		}
		dst, ok := c.nodes[conn.To]
		if !ok {
			return compileErr(KindDangling, fromKey, fmt.Errorf("%w: %s -> %s: unknown target", ErrDanglingConnection, conn.From, conn.To))
		}
		if src.Type == NodeTypeNote || dst.Type == NodeTypeNote {
			continue
		}
		if isCapability(conn, src, dst) {
			c.caps[fromKey] = append(c.caps[fromKey], dst)
			continue
		}
		if !conn.Type.ControlFlow() {
			continue
		}
		if src.ParentID != dst.ParentID {
			return compileErr(KindInvalid, fromKey, fmt.Errorf("%w: %s -> %s crosses a group boundary", ErrInvalidGraph, conn.From, conn.To))
		}
		c.control[fromKey] = append(c.control[fromKey], link{handle: handle, to: conn.To})
		c.incoming[conn.To]++
	}
	return nil
}

func (c *compilation) compileScope(ctx context.Context, scope string, starts []string) (*CompiledGraph, error) {
	reach := c.reachable(starts)
	if err := c.detectCycle(starts, reach); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(reach))
	for k := range reach {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cg := &CompiledGraph{
		Graph: c.g,
		Scope: scope,
		Start: append([]string(nil), starts...),
		Nodes: make(map[string]*CompiledNode, len(keys)),
	}
	for _, key := range keys {
		cn, err := c.compileNode(ctx, c.nodes[key])
		if err != nil {
			return nil, err
		}
		cg.Nodes[key] = cn
		if len(cn.Next) == 0 {
			cg.Terminals = append(cg.Terminals, key)
		}
	}
	c.compiled = append(c.compiled, cg)
	return cg, nil
}

func (c *compilation) compileNode(ctx context.Context, n *Node) (*CompiledNode, error) {
	common, err := n.Common()
	if err != nil {
		return nil, compileErr(KindInvalid, n.Key, err)
	}
	cc := &CompileContext{Graph: c.g, Capabilities: c.caps[n.Key]}
	if n.Type.Group() {
		sub, err := c.compileGroup(ctx, n)
		if err != nil {
			return nil, err
		}
		cc.Subgraph = sub
	}
	unit, err := c.reg.Compile(ctx, n, cc)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return nil, err
		}
		if errors.Is(err, ErrUnknownNodeType) {
			return nil, compileErr(KindUnknown, n.Key, err)
		}
		return nil, compileErr(KindInvalid, n.Key, err)
	}
	if unit.Subgraph == nil {
		unit.Subgraph = cc.Subgraph
	}
	handles := map[string]bool{HandleDefault: true}
	for _, h := range unit.Handles {
		handles[h] = true
	}
	if common.ErrorHandling != nil && common.ErrorHandling.Type == ErrorHandlingFailBranch {
		handles[HandleFail] = true
	}
	next := make(map[string][]string)
	for _, l := range c.control[n.Key] {
		if !handles[l.handle] {
			return nil, compileErr(KindDangling, n.Key, fmt.Errorf("%w: %s has no terminal %q", ErrDanglingConnection, n.Key, l.handle))
		}
		next[l.handle] = appendUnique(next[l.handle], l.to)
	}
	for h := range next {
		sort.Strings(next[h])
	}
	return &CompiledNode{
		Node:         n,
		Unit:         unit,
		Common:       common,
		Next:         next,
		Capabilities: c.caps[n.Key],
	}, nil
}

// compileGroup compiles the children of a group node as their own scope.
// Children without incoming connections start the body.
func (c *compilation) compileGroup(ctx context.Context, group *Node) (*CompiledGraph, error) {
	var children, starts []string
	for _, n := range c.g.Nodes {
		if n.ParentID != group.Key || n.Type == NodeTypeNote {
			continue
		}
		children = append(children, n.Key)
		if c.incoming[n.Key] == 0 && !c.isCapabilityTarget(n.Key) {
			starts = append(starts, n.Key)
		}
	}
	sort.Strings(starts)
	if len(children) == 0 {
		return nil, compileErr(KindInvalid, group.Key, fmt.Errorf("%w: group %s has no children", ErrInvalidGraph, group.Key))
	}
	if len(starts) == 0 {
		return nil, compileErr(KindCycle, group.Key, fmt.Errorf("%w: group %s has no entry node", ErrCycleDetected, group.Key), children...)
	}
	return c.compileScope(ctx, group.Key, starts)
}

func (c *compilation) isCapabilityTarget(key string) bool {
	for _, targets := range c.caps {
		for _, t := range targets {
			if t.Key == key {
				return true
			}
		}
	}
	return false
}

func (c *compilation) reachable(starts []string) map[string]bool {
	seen := make(map[string]bool)
	queue := append([]string(nil), starts...)
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if seen[k] {
			continue
		}
		if n, ok := c.nodes[k]; !ok || n.Type == NodeTypeNote {
			continue
		}
		seen[k] = true
		for _, l := range c.control[k] {
			queue = append(queue, l.to)
		}
	}
	return seen
}

// detectCycle runs a depth first search over the control edges of one
// scope. Loops only exist as group nodes, so any back edge is an error.
func (c *compilation) detectCycle(starts []string, reach map[string]bool) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(reach))
	var stack []string
	var visit func(k string) error
	visit = func(k string) error {
		color[k] = grey
		stack = append(stack, k)
		for _, l := range c.control[k] {
			if !reach[l.to] {
				continue
			}
			switch color[l.to] {
			case grey:
				path := []string{l.to}
				for i := len(stack) - 1; i >= 0 && stack[i] != l.to; i-- {
					path = append([]string{stack[i]}, path...)
				}
				path = append([]string{l.to}, path...)
				return compileErr(KindCycle, l.to, ErrCycleDetected, path...)
			case white:
				if err := visit(l.to); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[k] = black
		return nil
	}
	for _, s := range starts {
		if reach[s] && color[s] == white {
			if err := visit(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkVariables resolves every selector a compiled node reads against the
// declared outputs of the channel it names.
func (c *compilation) checkVariables() error {
	var all []*CompiledNode
	for _, cg := range c.compiled {
		for _, n := range cg.Nodes {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Node.Key < all[j].Node.Key })
	for _, cn := range all {
		var sels []Selector
		if !cn.Unit.ExplicitReads {
			sels = References(string(cn.Node.Entity))
		}
		sels = append(sels, cn.Unit.Reads...)
		for _, sel := range sels {
			if err := c.resolve(cn.Node, sel); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compilation) resolve(reader *Node, sel Selector) error {
	if sel.Channel == SysChannel {
		return nil
	}
	unresolved := func(cause string) error {
		return compileErr(KindUnresolved, reader.Key, fmt.Errorf("%w: %s: %s", ErrUnresolvedVariable, sel, cause), sel.String())
	}
	target, ok := c.nodes[sel.Channel]
	if !ok {
		return unresolved("no such channel")
	}
	params, ok := c.outputs[target.Key]
	if !ok {
		var err error
		params, err = c.reg.OutputVariables(target)
		if err != nil {
			return unresolved(err.Error())
		}
		if common, cerr := target.Common(); cerr == nil && common.ErrorHandling != nil &&
			common.ErrorHandling.Type == ErrorHandlingFailBranch {
			params = append(params, Parameter{Name: "error", Type: ParamString})
		}
		c.outputs[target.Key] = params
	}
	if !Resolves(params, sel.Path) {
		return unresolved("not declared by " + target.Key)
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}
