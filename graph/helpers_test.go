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
	"encoding/json"
	"sort"
	"sync"

	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/execution/inmemory"
)

// stubStrategy runs behaviours keyed by node key and writes {"out": key}
// for nodes without one.
type stubStrategy struct {
	behaviours map[string]Executable
	handles    map[string][]string
	reads      map[string][]Selector
}

func (s *stubStrategy) Compile(_ context.Context, n *Node, cc *CompileContext) (*Unit, error) {
	exec, ok := s.behaviours[n.Key]
	if !ok {
		key := n.Key
		exec = func(context.Context, *NodeContext) (*Result, error) {
			return &Result{Patch: map[string]any{"out": key}, Output: key}, nil
		}
	}
	return &Unit{Execute: exec, Handles: s.handles[n.Key], Reads: s.reads[n.Key], Subgraph: cc.Subgraph}, nil
}

func (s *stubStrategy) OutputVariables(*Node) ([]Parameter, error) {
	return []Parameter{
		{Name: "out", Type: ParamAny},
		{Name: "item", Type: ParamAny},
		{Name: "index", Type: ParamNumber},
		{Name: "error", Type: ParamString},
	}, nil
}

func newStubRegistry(s *stubStrategy) *Registry {
	reg := NewRegistry()
	for t := range nodeTypes {
		if t == NodeTypeNote {
			continue
		}
		reg.MustRegister(t, s)
	}
	return reg
}

func node(key string, t NodeType, entity string) *Node {
	n := &Node{Key: key, Type: t}
	if entity != "" {
		n.Entity = json.RawMessage(entity)
	}
	return n
}

func edge(from, to string) *Connection {
	return &Connection{From: from, To: to, Type: ConnectionEdge}
}

// memSaver is a minimal CheckpointSaver.
type memSaver struct {
	mu    sync.Mutex
	items map[string][]*Checkpoint
}

func newMemSaver() *memSaver { return &memSaver{items: map[string][]*Checkpoint{}} }

func (m *memSaver) Put(_ context.Context, addr CheckpointAddress, c *Checkpoint) (CheckpointAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := addr.ThreadID + "|" + addr.Namespace
	m.items[k] = append(m.items[k], c)
	addr.CheckpointID = c.ID
	return addr, nil
}

func (m *memSaver) Get(_ context.Context, addr CheckpointAddress) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.items[addr.ThreadID+"|"+addr.Namespace]
	if len(list) == 0 {
		return nil, ErrCheckpointNotFound
	}
	if addr.CheckpointID == "" {
		return list[len(list)-1], nil
	}
	for _, c := range list {
		if c.ID == addr.CheckpointID {
			return c, nil
		}
	}
	return nil, ErrCheckpointNotFound
}

func (m *memSaver) List(_ context.Context, threadID, ns string, _ int) ([]*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]*Checkpoint(nil), m.items[threadID+"|"+ns]...)
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

func (m *memSaver) DeleteThread(context.Context, string) error { return nil }
func (m *memSaver) Close() error                               { return nil }

func newTestRun(threadID string, interruptBefore ...string) *Run {
	tr := execution.NewTracker(inmemory.New(), nil)
	return NewRun(RuntimeConfig{XpertID: "x1", ThreadID: threadID, InterruptBefore: interruptBefore}, tr, nil)
}
