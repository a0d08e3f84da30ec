//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package savertest holds the behaviour every checkpoint saver must share.
package savertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
)

func newCheckpoint(step int, next ...string) *graph.Checkpoint {
	return &graph.Checkpoint{
		Version:     graph.CheckpointVersion,
		ID:          graph.NewCheckpointID(),
		Timestamp:   time.Now().UTC(),
		Step:        step,
		ExecutionID: "exec-1",
		ChannelValues: map[string]map[string]any{
			"sys": {"query": "hello"},
			"a":   {"out": float64(step)},
		},
		NextNodes: next,
	}
}

// Run exercises s.
func Run(t *testing.T, s graph.CheckpointSaver) {
	ctx := context.Background()

	_, err := s.Get(ctx, graph.CheckpointAddress{ThreadID: "t1"})
	require.ErrorIs(t, err, graph.ErrCheckpointNotFound)
	_, err = s.Put(ctx, graph.CheckpointAddress{}, newCheckpoint(0))
	require.ErrorIs(t, err, graph.ErrThreadIDRequired)

	first := newCheckpoint(1, "b")
	addr, err := s.Put(ctx, graph.CheckpointAddress{ThreadID: "t1"}, first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, addr.CheckpointID)
	assert.Equal(t, "t1", addr.ThreadID)

	second := newCheckpoint(2)
	second.ParentID = first.ID
	second.InterruptState = &graph.InterruptState{
		NodeKey:     "b",
		ExecutionID: "rec-b",
		Operation: &execution.Operation{NodeKey: "b", ToolCalls: []execution.ToolCallEntry{
			{Call: execution.ToolCall{ID: "c1", Name: "rm"}},
		}},
		Path: "loop[1]/b",
		Groups: map[string]*graph.GroupState{"loop": {
			Done: map[string]any{"0": "x"},
			Suspended: map[string]*graph.ScopeState{"1": {
				Step:          1,
				ChannelValues: map[string]map[string]any{"loop": {"item": "y", "index": 1}},
				NextNodes:     []string{"b"},
				Pending:       map[string]string{"b": "rec-b"},
			}},
		}},
	}
	_, err = s.Put(ctx, graph.CheckpointAddress{ThreadID: "t1"}, second)
	require.NoError(t, err)
	_, err = s.Put(ctx, graph.CheckpointAddress{ThreadID: "t1", Namespace: "sub"}, newCheckpoint(9))
	require.NoError(t, err)
	_, err = s.Put(ctx, graph.CheckpointAddress{ThreadID: "t2"}, newCheckpoint(5))
	require.NoError(t, err)

	latest, err := s.Get(ctx, graph.CheckpointAddress{ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, first.ID, latest.ParentID)
	require.NotNil(t, latest.InterruptState)
	assert.Equal(t, "rm", latest.InterruptState.Operation.ToolCalls[0].Call.Name)
	assert.Equal(t, "loop[1]/b", latest.InterruptState.Path)
	loop := latest.InterruptState.Groups["loop"]
	require.NotNil(t, loop)
	assert.Equal(t, "x", loop.Done["0"])
	require.Contains(t, loop.Suspended, "1")
	assert.Equal(t, []string{"b"}, loop.Suspended["1"].NextNodes)
	assert.Equal(t, "rec-b", loop.Suspended["1"].Pending["b"])
	assert.Equal(t, "hello", latest.ChannelValues["sys"]["query"])

	got, err := s.Get(ctx, graph.CheckpointAddress{ThreadID: "t1", CheckpointID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.NextNodes)
	assert.Equal(t, float64(1), got.ChannelValues["a"]["out"])

	_, err = s.Get(ctx, graph.CheckpointAddress{ThreadID: "t1", CheckpointID: "missing"})
	require.ErrorIs(t, err, graph.ErrCheckpointNotFound)

	list, err := s.List(ctx, "t1", "", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	limited, err := s.List(ctx, "t1", "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	sub, err := s.Get(ctx, graph.CheckpointAddress{ThreadID: "t1", Namespace: "sub"})
	require.NoError(t, err)
	assert.Equal(t, 9, sub.Step)

	require.NoError(t, s.DeleteThread(ctx, "t1"))
	_, err = s.Get(ctx, graph.CheckpointAddress{ThreadID: "t1"})
	require.ErrorIs(t, err, graph.ErrCheckpointNotFound)
	_, err = s.Get(ctx, graph.CheckpointAddress{ThreadID: "t1", Namespace: "sub"})
	require.ErrorIs(t, err, graph.ErrCheckpointNotFound)
	other, err := s.Get(ctx, graph.CheckpointAddress{ThreadID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, 5, other.Step)
}
