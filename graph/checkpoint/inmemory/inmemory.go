//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory checkpoint storage. Checkpoints are
// lost with the process, so it suits tests and single node deployments.
package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xpert-ai/xpert-sub002/graph"
)

// DefaultMaxCheckpointsPerThread bounds one thread namespace.
const DefaultMaxCheckpointsPerThread = 100

var _ graph.CheckpointSaver = (*Saver)(nil)

// Saver keeps encoded checkpoints per thread and namespace. Storing the
// JSON form means callers never share maps with the saver.
type Saver struct {
	mu sync.RWMutex
	// storage is threadID -> namespace -> ordered checkpoints.
	storage map[string]map[string][]stored
	max     int
}

type stored struct {
	id   string
	data []byte
}

// Option configures a Saver.
type Option func(*Saver)

// WithMaxCheckpointsPerThread drops the oldest checkpoints beyond n.
func WithMaxCheckpointsPerThread(n int) Option {
	return func(s *Saver) { s.max = n }
}

// NewSaver creates an empty saver.
func NewSaver(opts ...Option) *Saver {
	s := &Saver{storage: make(map[string]map[string][]stored), max: DefaultMaxCheckpointsPerThread}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores c.
func (s *Saver) Put(_ context.Context, addr graph.CheckpointAddress, c *graph.Checkpoint) (graph.CheckpointAddress, error) {
	if addr.ThreadID == "" {
		return graph.CheckpointAddress{}, graph.ErrThreadIDRequired
	}
	if c.ID == "" {
		c.ID = graph.NewCheckpointID()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return graph.CheckpointAddress{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.storage[addr.ThreadID]
	if !ok {
		ns = make(map[string][]stored)
		s.storage[addr.ThreadID] = ns
	}
	list := append(ns[addr.Namespace], stored{id: c.ID, data: data})
	sort.SliceStable(list, func(i, j int) bool { return list[i].id < list[j].id })
	if s.max > 0 && len(list) > s.max {
		list = list[len(list)-s.max:]
	}
	ns[addr.Namespace] = list
	addr.CheckpointID = c.ID
	return addr, nil
}

// Get loads one checkpoint, the latest when no id is given.
func (s *Saver) Get(_ context.Context, addr graph.CheckpointAddress) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.storage[addr.ThreadID][addr.Namespace]
	if len(list) == 0 {
		return nil, graph.ErrCheckpointNotFound
	}
	if addr.CheckpointID == "" {
		return decode(list[len(list)-1].data)
	}
	for _, it := range list {
		if it.id == addr.CheckpointID {
			return decode(it.data)
		}
	}
	return nil, graph.ErrCheckpointNotFound
}

// List returns checkpoints newest first.
func (s *Saver) List(_ context.Context, threadID, namespace string, limit int) ([]*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.storage[threadID][namespace]
	var out []*graph.Checkpoint
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		c, err := decode(list[i].data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteThread removes every namespace of threadID.
func (s *Saver) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, threadID)
	return nil
}

// Close is a no-op.
func (s *Saver) Close() error { return nil }

func decode(data []byte) (*graph.Checkpoint, error) {
	var c graph.Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &c, nil
}
