//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/graph/checkpoint/internal/savertest"
)

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	return db
}

func TestSaver(t *testing.T) {
	s, err := NewSaver(openDB(t, filepath.Join(t.TempDir(), "ckpt.db")))
	require.NoError(t, err)
	defer s.Close()
	savertest.Run(t, s)
}

func TestSaver_NilDB(t *testing.T) {
	_, err := NewSaver(nil)
	require.Error(t, err)
}

func TestSaver_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ckpt.db")
	s, err := NewSaver(openDB(t, path))
	require.NoError(t, err)
	addr, err := s.Put(ctx, graph.CheckpointAddress{ThreadID: "t"}, &graph.Checkpoint{Step: 3, NextNodes: []string{"x"}})
	require.NoError(t, err)
	require.NotEmpty(t, addr.CheckpointID)
	require.NoError(t, s.Close())

	s, err = NewSaver(openDB(t, path))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, graph.CheckpointAddress{ThreadID: "t"})
	require.NoError(t, err)
	assert.Equal(t, addr.CheckpointID, got.ID)
	assert.Equal(t, []string{"x"}, got.NextNodes)
}
