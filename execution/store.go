//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package execution

import "context"

// Store persists records. Implementations serialize Update calls on the same
// record; concurrent Create calls for children of one parent must all land.
type Store interface {
	// Create inserts a new record.
	Create(ctx context.Context, r *Record) error
	// Update loads the record, applies fn and saves it. When fn returns
	// ErrNoChange nothing is written and the current record is returned
	// together with ErrNoChange.
	Update(ctx context.Context, id string, fn func(r *Record) error) (*Record, error)
	// Get returns a copy of the record.
	Get(ctx context.Context, id string) (*Record, error)
	// Children returns the direct children in creation order.
	Children(ctx context.Context, parentID string) ([]*Record, error)
}
