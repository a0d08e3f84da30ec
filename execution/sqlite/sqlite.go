//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite stores execution records in SQLite through gorm.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xpert-ai/xpert-sub002/execution"
)

var _ execution.Store = (*Store)(nil)

// recordRow is the table layout. The full record lives in Payload; the
// other columns exist for lookups.
type recordRow struct {
	ID       string `gorm:"primaryKey;size:64"`
	ParentID string `gorm:"index;size:64"`
	Seq      int64  `gorm:"index"`
	Status   string `gorm:"size:16"`
	ThreadID string `gorm:"index;size:64"`
	Payload  []byte
}

// TableName implements gorm's tabler.
func (recordRow) TableName() string { return "xpert_executions" }

// Store is a gorm backed execution store.
type Store struct {
	db  *gorm.DB
	mu  sync.Mutex
	seq atomic.Int64
}

// Open opens the database file at dsn. Use ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// every pooled connection would get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("migrate executions: %w", err)
	}
	s := &Store{db: db}
	var maxSeq int64
	if err := db.Model(&recordRow{}).Select("COALESCE(MAX(seq), 0)").Row().Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("load sequence: %w", err)
	}
	s.seq.Store(maxSeq)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts r.
func (s *Store) Create(ctx context.Context, r *execution.Record) error {
	if r == nil || r.ID == "" {
		return errors.New("sqlite: record id is required")
	}
	row, err := toRow(r)
	if err != nil {
		return err
	}
	row.Seq = s.seq.Add(1)
	return s.db.WithContext(ctx).Create(row).Error
}

// Update applies fn inside a transaction.
func (s *Store) Update(ctx context.Context, id string, fn func(r *execution.Record) error) (*execution.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out *execution.Record
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", execution.ErrNotFound, id)
			}
			return err
		}
		r, err := fromRow(&row)
		if err != nil {
			return err
		}
		cur := r.Clone()
		if fnErr = fn(r); fnErr != nil {
			out = cur
			return nil
		}
		next, err := toRow(r)
		if err != nil {
			return err
		}
		out = r
		return tx.Model(&recordRow{}).Where("id = ?", id).Updates(map[string]any{
			"status":  next.Status,
			"payload": next.Payload,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return out, fnErr
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, id string) (*execution.Record, error) {
	var row recordRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", execution.ErrNotFound, id)
		}
		return nil, err
	}
	return fromRow(&row)
}

// Children lists the direct children of parentID in creation order.
func (s *Store) Children(ctx context.Context, parentID string) ([]*execution.Record, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("seq asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*execution.Record, 0, len(rows))
	for i := range rows {
		r, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func toRow(r *execution.Record) (*recordRow, error) {
	payload, err := json.Marshal(r.Clone())
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.ID, err)
	}
	return &recordRow{
		ID:       r.ID,
		ParentID: r.ParentID,
		Status:   string(r.Status),
		ThreadID: r.ThreadID,
		Payload:  payload,
	}, nil
}

func fromRow(row *recordRow) (*execution.Record, error) {
	var r execution.Record
	if err := json.Unmarshal(row.Payload, &r); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", row.ID, err)
	}
	return &r, nil
}
