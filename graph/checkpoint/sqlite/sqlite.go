//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite checkpoint storage. The caller owns the
// *sql.DB and picks the driver; the pure Go driver registered by
// github.com/glebarez/go-sqlite under the name "sqlite" is the usual choice.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xpert-ai/xpert-sub002/graph"
)

const (
	sqliteCreateCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_ns TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_checkpoint_id TEXT, " +
		"ts INTEGER NOT NULL, " +
		"step INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id))"

	sqliteInsertCheckpoint = "INSERT OR REPLACE INTO checkpoints (" +
		"thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, ts, step, checkpoint_json) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?)"

	sqliteSelectLatest = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_ns = ? " +
		"ORDER BY checkpoint_id DESC LIMIT 1"

	sqliteSelectByID = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?"

	sqliteSelectList = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_ns = ? " +
		"ORDER BY checkpoint_id DESC"

	sqliteDeleteThread = "DELETE FROM checkpoints WHERE thread_id = ?"
)

var _ graph.CheckpointSaver = (*Saver)(nil)

// Saver is a SQLite-backed implementation of CheckpointSaver.
type Saver struct {
	db *sql.DB
}

// NewSaver creates the table when missing.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("sqlite saver: db is nil")
	}
	if _, err := db.Exec(sqliteCreateCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Put stores c.
func (s *Saver) Put(ctx context.Context, addr graph.CheckpointAddress, c *graph.Checkpoint) (graph.CheckpointAddress, error) {
	if addr.ThreadID == "" {
		return graph.CheckpointAddress{}, graph.ErrThreadIDRequired
	}
	if c.ID == "" {
		c.ID = graph.NewCheckpointID()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return graph.CheckpointAddress{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertCheckpoint,
		addr.ThreadID, addr.Namespace, c.ID, c.ParentID, c.Timestamp.UnixNano(), c.Step, data)
	if err != nil {
		return graph.CheckpointAddress{}, fmt.Errorf("insert checkpoint: %w", err)
	}
	addr.CheckpointID = c.ID
	return addr, nil
}

// Get loads one checkpoint, the latest when no id is given.
func (s *Saver) Get(ctx context.Context, addr graph.CheckpointAddress) (*graph.Checkpoint, error) {
	var row *sql.Row
	if addr.CheckpointID == "" {
		row = s.db.QueryRowContext(ctx, sqliteSelectLatest, addr.ThreadID, addr.Namespace)
	} else {
		row = s.db.QueryRowContext(ctx, sqliteSelectByID, addr.ThreadID, addr.Namespace, addr.CheckpointID)
	}
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, graph.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return decode(data)
}

// List returns checkpoints newest first.
func (s *Saver) List(ctx context.Context, threadID, namespace string, limit int) ([]*graph.Checkpoint, error) {
	query := sqliteSelectList
	args := []any{threadID, namespace}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	var out []*graph.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		c, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteThread removes every namespace of threadID.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteThread, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Saver) Close() error {
	return s.db.Close()
}

func decode(data []byte) (*graph.Checkpoint, error) {
	var c graph.Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &c, nil
}
