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
	"sync"
	"sync/atomic"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/log"
)

// RuntimeConfig is the per-run configuration nodes may read.
type RuntimeConfig struct {
	XpertID  string
	AgentKey string
	ThreadID string
	// InterruptBefore names nodes and tools that need confirmation.
	InterruptBefore []string
}

// Run is the explicit context of one run, shared by every node of it
// including nested subgraphs.
type Run struct {
	Config  RuntimeConfig
	Tracker *execution.Tracker
	Emitter event.Emitter

	// ExecutionID is the root record, set when the run starts.
	ExecutionID string

	cancelled atomic.Bool
	// lastCheckpoint is only touched by the goroutine driving the root scope.
	lastCheckpoint string

	// decisions, reuse and groups are keyed by node path.
	mu        sync.Mutex
	decisions map[string]*pendingDecision
	reuse     map[string]string
	groups    map[string]*GroupState
}

type pendingDecision struct {
	decision *ResumeDecision
	stored   *execution.Operation
}

// NewRun creates a run. A nil emitter discards events.
func NewRun(cfg RuntimeConfig, tracker *execution.Tracker, emitter event.Emitter) *Run {
	if emitter == nil {
		emitter = event.Discard
	}
	return &Run{
		Config:    cfg,
		Tracker:   tracker,
		Emitter:   emitter,
		decisions: make(map[string]*pendingDecision),
		reuse:     make(map[string]string),
		groups:    make(map[string]*GroupState),
	}
}

// Cancel asks the run to stop before dispatching anything else.
func (r *Run) Cancel() { r.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (r *Run) Cancelled() bool { return r.cancelled.Load() }

func (r *Run) setDecision(path string, d *ResumeDecision, stored *execution.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[path] = &pendingDecision{decision: d, stored: stored}
}

// takeDecision hands out the resume decision for path once.
func (r *Run) takeDecision(path string) (*pendingDecision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[path]
	if ok {
		delete(r.decisions, path)
	}
	return d, ok
}

func (r *Run) takeReuse(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.reuse[path]
	if ok {
		delete(r.reuse, path)
	}
	return id, ok
}

func (r *Run) takeGroup(path string) *GroupState {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[path]
	delete(r.groups, path)
	return g
}

// restore registers the records and group progress of a suspended scope
// under prefix, so the nodes pick them up when they run again.
func (r *Run) restore(prefix string, pending map[string]string, groups map[string]*GroupState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, id := range pending {
		if id != "" {
			r.reuse[joinPath(prefix, k)] = id
		}
	}
	for k, g := range groups {
		if g != nil {
			r.groups[joinPath(prefix, k)] = g
		}
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func (r *Run) emit(ctx context.Context, e *event.Event) {
	if err := r.Emitter.Emit(ctx, e); err != nil {
		log.Debugf("graph: drop %s event of %s: %v", e.Kind, e.AgentKey, err)
	}
}

// NodeContext is what an executable sees of the run.
type NodeContext struct {
	Node     *Node
	Compiled *CompiledNode
	// State is a read-only view; writes go through Result.Patch.
	State StateReader
	Run   *Run
	// ExecutionID is the record of this node execution.
	ExecutionID  string
	ParentID     string
	CheckpointNs string
	Step         int

	exec  *Executor
	state *State
	path  string
}

// Config returns the runtime configuration.
func (nc *NodeContext) Config() *RuntimeConfig { return &nc.Run.Config }

// Render replaces {{channel.path}} references in text.
func (nc *NodeContext) Render(text string) string { return Render(text, nc.State) }

// Sensitive reports whether any of names is in the interruptBefore set.
func (nc *NodeContext) Sensitive(names ...string) bool {
	for _, n := range names {
		if CheckSensitive(n, &nc.Run.Config) {
			return true
		}
	}
	return false
}

// Path is the node key qualified by the nested runs it executes in, such
// as loop[1]/ask for the ask node of the second iteration of loop.
func (nc *NodeContext) Path() string {
	if nc.path == "" {
		return nc.Node.Key
	}
	return nc.path
}

// Confirm asks for human confirmation of op. When the run was resumed with
// a decision for this node the approval is returned; otherwise the node
// must return the InterruptError so the run suspends.
func (nc *NodeContext) Confirm(op *execution.Operation) (*Approval, error) {
	if op.NodeKey == "" {
		op.NodeKey = nc.Node.Key
	}
	if d, ok := nc.Run.takeDecision(nc.Path()); ok {
		stored := d.stored
		if stored == nil {
			stored = op
		}
		return d.decision.apply(stored), nil
	}
	return nil, &InterruptError{NodeKey: nc.Node.Key, Operation: op, Path: nc.Path()}
}

// Resumption hands out, once, the decision the run was resumed with for
// this node. Nodes that can pick up from the stored operation call it
// before doing any work.
func (nc *NodeContext) Resumption() (*Approval, bool) {
	d, ok := nc.Run.takeDecision(nc.Path())
	if !ok {
		return nil, false
	}
	stored := d.stored
	if stored == nil {
		stored = &execution.Operation{NodeKey: nc.Node.Key}
	}
	return d.decision.apply(stored), true
}

// Emit publishes a node scoped event.
func (nc *NodeContext) Emit(ctx context.Context, kind event.Kind, name string, data any) {
	nc.EmitScoped(ctx, kind, name, "", data)
}

// EmitScoped publishes an event whose checkpoint namespace is extended by
// scope, so that repeated tool calls inside one node stay distinct.
func (nc *NodeContext) EmitScoped(ctx context.Context, kind event.Kind, name, scope string, data any) {
	ns := nc.CheckpointNs
	if scope != "" {
		ns += "|" + scope
	}
	nc.Run.emit(ctx, event.New(kind, nc.Node.Key, data,
		event.WithName(name),
		event.WithExecution(nc.ExecutionID, nc.ParentID),
		event.WithCheckpoint(nc.Run.Config.ThreadID, ns, "")))
}

// EmitMessage streams text to the caller.
func (nc *NodeContext) EmitMessage(ctx context.Context, text string) {
	nc.Run.emit(ctx, event.NewMessage(nc.Node.Key, text,
		event.WithName(nc.Node.Name()),
		event.WithExecution(nc.ExecutionID, nc.ParentID),
		event.WithCheckpoint(nc.Run.Config.ThreadID, nc.CheckpointNs, "")))
}

// Fork returns an isolated copy of the run state for nested execution.
func (nc *NodeContext) Fork() *State { return nc.state.Fork() }

// ScopeResult is the outcome of a nested graph.
type ScopeResult struct {
	// Outputs maps each terminal that ran to its output.
	Outputs map[string]any
	// Output collapses Outputs when a single terminal ran.
	Output any
	State  *State
}

// RunSubgraph runs sub on state as a child of this node. name tells the
// nested runs of one node apart, an iteration index for example. An
// interrupt inside is returned as *InterruptError whose Scope resumes the
// run through ResumeSubgraph.
func (nc *NodeContext) RunSubgraph(ctx context.Context, sub *CompiledGraph, state *State, name string) (*ScopeResult, error) {
	if sub == nil {
		return nil, ErrSubgraphUnavailable
	}
	return nc.runNested(ctx, sub, state, name, sub.Start, 0, nil)
}

// ResumeSubgraph continues the nested run name from the scope it stopped
// in. The records of the interrupted nodes are reused.
func (nc *NodeContext) ResumeSubgraph(ctx context.Context, sub *CompiledGraph, name string, ss *ScopeState) (*ScopeResult, error) {
	if sub == nil {
		return nil, ErrSubgraphUnavailable
	}
	prefix := nc.nestedPrefix(name)
	nc.Run.restore(prefix, ss.Pending, ss.Groups)
	return nc.runNested(ctx, sub, RestoreState(ss.ChannelValues), name, ss.NextNodes, ss.Step, ss.Outputs)
}

// Suspended hands out, once, the progress this group node saved when its
// nested runs stopped at an interrupt. It is nil on a first attempt.
func (nc *NodeContext) Suspended() *GroupState {
	return nc.Run.takeGroup(nc.Path())
}

func (nc *NodeContext) nestedPrefix(name string) string {
	return nc.Path() + "[" + name + "]"
}

// runNested runs a nested scope. done holds the outputs of terminals that
// finished before an earlier suspension.
func (nc *NodeContext) runNested(ctx context.Context, sub *CompiledGraph, state *State, name string, frontier []string, step int, done map[string]any) (*ScopeResult, error) {
	out, err := nc.exec.runScope(ctx, nc.Run, sub, state, nc.ExecutionID, nc.nestedPrefix(name), frontier, step)
	if err != nil {
		return nil, err
	}
	out.merge(done)
	if s := out.suspended; s != nil {
		first := s.interrupts[0].err
		return nil, &InterruptError{
			NodeKey:   first.NodeKey,
			Operation: first.Operation,
			Path:      first.Path,
			Scope:     s.scopeState(state, out.outputs),
		}
	}
	return out.result(state), nil
}

// SetScope writes a runtime managed channel such as an iterator item.
func SetScope(s *State, ch string, values map[string]any) {
	s.writeScoped(ch, values)
}
