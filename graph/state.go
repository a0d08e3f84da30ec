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
	"strings"

	"github.com/xpert-ai/xpert-sub002/graph/internal/channel"
)

// StateReader is the read-only view handed to nodes.
type StateReader interface {
	// Read resolves a dotted path inside a channel.
	Read(channel, path string) (any, bool)
	Select(sel Selector) (any, bool)
	Snapshot() map[string]map[string]any
}

// State is the channel store of one run.
type State struct {
	store *channel.Store
}

var _ StateReader = (*State)(nil)

// NewState creates state whose sys channel holds inputs.
func NewState(inputs map[string]any) *State {
	s := &State{store: channel.New()}
	if inputs == nil {
		inputs = map[string]any{}
	}
	_ = s.store.Write(SysChannel, SysChannel, inputs)
	return s
}

// RestoreState rebuilds state from a snapshot.
func RestoreState(values map[string]map[string]any) *State {
	return &State{store: channel.FromValues(values)}
}

// Write merges patch into the channel owned by nodeKey.
func (s *State) Write(nodeKey string, patch map[string]any) error {
	return s.store.Write(nodeKey, nodeKey, patch)
}

// Read resolves path (dot separated, may be empty) inside channel.
func (s *State) Read(ch, path string) (any, bool) {
	if path == "" {
		return s.store.Read(ch)
	}
	return s.store.Read(ch, strings.Split(path, ".")...)
}

// Select resolves a selector.
func (s *State) Select(sel Selector) (any, bool) {
	return s.store.Read(sel.Channel, sel.Path...)
}

// Snapshot returns a deep copy of all channels.
func (s *State) Snapshot() map[string]map[string]any {
	return s.store.Snapshot()
}

// Fork returns an isolated copy sharing the current values.
func (s *State) Fork() *State {
	return &State{store: s.store.Fork()}
}

// writeScoped sets a channel on behalf of the runtime, as iterators do
// for their item and index.
func (s *State) writeScoped(ch string, patch map[string]any) {
	_ = s.store.Write("", ch, patch)
}
