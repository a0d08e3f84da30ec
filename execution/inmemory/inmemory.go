//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory execution store.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xpert-ai/xpert-sub002/execution"
)

var _ execution.Store = (*Store)(nil)

// Store keeps records in maps guarded by a single mutex.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*execution.Record
	children map[string][]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:  make(map[string]*execution.Record),
		children: make(map[string][]string),
	}
}

// Create inserts r.
func (s *Store) Create(_ context.Context, r *execution.Record) error {
	if r == nil || r.ID == "" {
		return errors.New("inmemory: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("inmemory: record %s already exists", r.ID)
	}
	s.records[r.ID] = r.Clone()
	if r.ParentID != "" {
		s.children[r.ParentID] = append(s.children[r.ParentID], r.ID)
	}
	return nil
}

// Update applies fn to a copy of the record and keeps the copy on success.
func (s *Store) Update(_ context.Context, id string, fn func(r *execution.Record) error) (*execution.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", execution.ErrNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur.Clone(), err
	}
	s.records[id] = next
	return next.Clone(), nil
}

// Get returns a copy of the record.
func (s *Store) Get(_ context.Context, id string) (*execution.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", execution.ErrNotFound, id)
	}
	return r.Clone(), nil
}

// Children returns the direct children of parentID in insertion order.
func (s *Store) Children(_ context.Context, parentID string) ([]*execution.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.children[parentID]
	out := make([]*execution.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}
