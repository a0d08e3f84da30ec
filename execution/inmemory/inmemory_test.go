//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/execution"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, &execution.Record{ID: "p", Status: execution.StatusRunning}))
	require.Error(t, s.Create(ctx, &execution.Record{ID: "p"}))
	require.Error(t, s.Create(ctx, &execution.Record{}))
	require.NoError(t, s.Create(ctx, &execution.Record{ID: "c", ParentID: "p"}))

	got, err := s.Get(ctx, "p")
	require.NoError(t, err)
	got.Status = execution.StatusError
	again, err := s.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, again.Status, "returned records are copies")

	_, err = s.Update(ctx, "missing", func(*execution.Record) error { return nil })
	require.ErrorIs(t, err, execution.ErrNotFound)

	children, err := s.Children(ctx, "p")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "c", children[0].ID)
}
