//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package channel provides the copy-on-write channel store behind graph state.
package channel

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrOwnership is returned when a node writes a channel claimed by another.
var ErrOwnership = errors.New("channel: written by another owner")

// Values maps a channel name to its top level object.
type Values map[string]map[string]any

// Store holds the channels of one run. Published maps are never mutated,
// so Read and Snapshot work on a stable view while writers build the next.
type Store struct {
	mu     sync.Mutex
	owners map[string]string
	cur    atomic.Pointer[Values]
}

// New creates an empty store.
func New() *Store {
	s := &Store{owners: make(map[string]string)}
	empty := Values{}
	s.cur.Store(&empty)
	return s
}

// FromValues creates a store holding a deep copy of v.
func FromValues(v Values) *Store {
	s := New()
	c := make(Values, len(v))
	for name, m := range v {
		c[name] = CopyMap(m)
	}
	s.cur.Store(&c)
	return s
}

// Write shallow-merges patch into channel name on behalf of owner. The
// first owner to write a channel claims it; an empty owner skips the check.
func (s *Store) Write(owner, name string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != "" {
		if o, ok := s.owners[name]; ok && o != owner {
			return fmt.Errorf("%w: %s owned by %s, not %s", ErrOwnership, name, o, owner)
		}
		s.owners[name] = owner
	}
	old := *s.cur.Load()
	next := make(Values, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	merged := make(map[string]any, len(old[name])+len(patch))
	for k, v := range old[name] {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = Copy(v)
	}
	next[name] = merged
	s.cur.Store(&next)
	return nil
}

// Read resolves path inside channel name. Missing channels, keys or out of
// range indexes report false.
func (s *Store) Read(name string, path ...string) (any, bool) {
	m, ok := (*s.cur.Load())[name]
	if !ok {
		return nil, false
	}
	var cur any = m
	for _, p := range path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[p]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return Copy(cur), true
}

// Snapshot returns a deep copy of every channel.
func (s *Store) Snapshot() Values {
	cur := *s.cur.Load()
	out := make(Values, len(cur))
	for k, m := range cur {
		out[k] = CopyMap(m)
	}
	return out
}

// Fork returns a store starting from the current view. Writes to either
// side are not visible to the other.
func (s *Store) Fork() *Store {
	f := New()
	f.cur.Store(s.cur.Load())
	return f
}

// Copy deep copies JSON-like values: maps, slices and scalars.
func Copy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Copy(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = CopyMap(e)
		}
		return out
	default:
		return v
	}
}

// CopyMap deep copies m. A nil map stays nil.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Copy(v)
	}
	return out
}
