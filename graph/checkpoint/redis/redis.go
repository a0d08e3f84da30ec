//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides Redis checkpoint storage.
//
// Each thread namespace keeps a sorted set of checkpoint ids, all scored
// zero so Redis orders them lexically, and a hash of encoded checkpoints.
// A per-thread set remembers the namespaces for DeleteThread.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xpert-ai/xpert-sub002/graph"
)

const defaultPrefix = "xpert:ckpt"

var _ graph.CheckpointSaver = (*Saver)(nil)

// Saver is a Redis-backed implementation of CheckpointSaver.
type Saver struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a Saver.
type Option func(*Saver)

// WithKeyPrefix changes the key prefix.
func WithKeyPrefix(p string) Option {
	return func(s *Saver) { s.prefix = p }
}

// WithTTL expires a thread's keys after d of inactivity.
func WithTTL(d time.Duration) Option {
	return func(s *Saver) { s.ttl = d }
}

// NewSaver wraps client.
func NewSaver(client redis.UniversalClient, opts ...Option) *Saver {
	s := &Saver{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Saver) indexKey(thread, ns string) string {
	return fmt.Sprintf("%s:idx:%s:%s", s.prefix, thread, ns)
}

func (s *Saver) dataKey(thread, ns string) string {
	return fmt.Sprintf("%s:data:%s:%s", s.prefix, thread, ns)
}

func (s *Saver) nsKey(thread string) string {
	return fmt.Sprintf("%s:ns:%s", s.prefix, thread)
}

// Put stores c.
func (s *Saver) Put(ctx context.Context, addr graph.CheckpointAddress, c *graph.Checkpoint) (graph.CheckpointAddress, error) {
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
	idx, dk, nk := s.indexKey(addr.ThreadID, addr.Namespace), s.dataKey(addr.ThreadID, addr.Namespace), s.nsKey(addr.ThreadID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, dk, c.ID, data)
		p.ZAdd(ctx, idx, redis.Z{Score: 0, Member: c.ID})
		p.SAdd(ctx, nk, addr.Namespace)
		if s.ttl > 0 {
			p.Expire(ctx, dk, s.ttl)
			p.Expire(ctx, idx, s.ttl)
			p.Expire(ctx, nk, s.ttl)
		}
		return nil
	})
	if err != nil {
		return graph.CheckpointAddress{}, fmt.Errorf("store checkpoint: %w", err)
	}
	addr.CheckpointID = c.ID
	return addr, nil
}

// Get loads one checkpoint, the latest when no id is given.
func (s *Saver) Get(ctx context.Context, addr graph.CheckpointAddress) (*graph.Checkpoint, error) {
	id := addr.CheckpointID
	if id == "" {
		ids, err := s.client.ZRevRange(ctx, s.indexKey(addr.ThreadID, addr.Namespace), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("latest checkpoint: %w", err)
		}
		if len(ids) == 0 {
			return nil, graph.ErrCheckpointNotFound
		}
		id = ids[0]
	}
	data, err := s.client.HGet(ctx, s.dataKey(addr.ThreadID, addr.Namespace), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, graph.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return decode(data)
}

// List returns checkpoints newest first.
func (s *Saver) List(ctx context.Context, threadID, namespace string, limit int) ([]*graph.Checkpoint, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID, namespace), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.dataKey(threadID, namespace), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]*graph.Checkpoint, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		c, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteThread removes every namespace of threadID.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	nss, err := s.client.SMembers(ctx, s.nsKey(threadID)).Result()
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	keys := []string{s.nsKey(threadID)}
	for _, ns := range nss {
		keys = append(keys, s.indexKey(threadID, ns), s.dataKey(threadID, ns))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Saver) Close() error {
	return s.client.Close()
}

func decode(data []byte) (*graph.Checkpoint, error) {
	var c graph.Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &c, nil
}
