//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/log"
)

// Meta describes a record about to start.
type Meta struct {
	ParentID     string
	AgentKey     string
	Title        string
	NodeType     string
	XpertID      string
	ThreadID     string
	CheckpointNs string
	CheckpointID string
	Inputs       any
}

// Outcome is what a successful node reports.
type Outcome struct {
	Outputs     any
	Tokens      int64
	EmbedTokens int64
	Elapsed     time.Duration
}

// Tracker drives record transitions and emits the matching lifecycle
// events. Root records (no parent) emit conversation events, the others
// emit agent events.
type Tracker struct {
	store   Store
	emitter event.Emitter
	now     func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker. A nil emitter discards events.
func NewTracker(store Store, emitter event.Emitter, opts ...TrackerOption) *Tracker {
	if emitter == nil {
		emitter = event.Discard
	}
	t := &Tracker{store: store, emitter: emitter, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Store returns the underlying store.
func (t *Tracker) Store() Store { return t.store }

// WithEmitter returns a tracker sharing the store but emitting to e.
func (t *Tracker) WithEmitter(e event.Emitter) *Tracker {
	c := *t
	if e == nil {
		e = event.Discard
	}
	c.emitter = e
	return &c
}

// Begin creates a running record and returns its id.
func (t *Tracker) Begin(ctx context.Context, meta Meta) (string, error) {
	if meta.ParentID != "" {
		if _, err := t.store.Get(ctx, meta.ParentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return "", fmt.Errorf("%w: %s", ErrParentNotFound, meta.ParentID)
			}
			return "", err
		}
	}
	now := t.now()
	r := &Record{
		ID:           uuid.New().String(),
		ParentID:     meta.ParentID,
		AgentKey:     meta.AgentKey,
		Title:        meta.Title,
		NodeType:     meta.NodeType,
		XpertID:      meta.XpertID,
		ThreadID:     meta.ThreadID,
		CheckpointNs: meta.CheckpointNs,
		CheckpointID: meta.CheckpointID,
		Status:       StatusRunning,
		Inputs:       meta.Inputs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := t.store.Create(ctx, r); err != nil {
		return "", fmt.Errorf("create execution: %w", err)
	}
	t.emit(ctx, r, true)
	return r.ID, nil
}

// Complete marks the record successful. Completing a record that already
// reached an end state is a no-op.
func (t *Tracker) Complete(ctx context.Context, id string, out Outcome) error {
	r, err := t.store.Update(ctx, id, func(r *Record) error {
		if r.Status.Terminal() {
			return ErrNoChange
		}
		if !CanTransition(r.Status, StatusSuccess) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusSuccess)
		}
		r.Status = StatusSuccess
		r.Outputs = out.Outputs
		r.Tokens += out.Tokens
		r.EmbedTokens += out.EmbedTokens
		r.ElapsedTime += out.Elapsed.Milliseconds()
		r.UpdatedAt = t.now()
		return nil
	})
	return t.finish(ctx, r, err)
}

// Fail marks the record failed with the error message verbatim. Failing a
// finished record is a no-op.
func (t *Tracker) Fail(ctx context.Context, id string, cause error, elapsed time.Duration) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	r, err := t.store.Update(ctx, id, func(r *Record) error {
		if r.Status.Terminal() {
			return ErrNoChange
		}
		if !CanTransition(r.Status, StatusError) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusError)
		}
		r.Status = StatusError
		r.Error = msg
		r.ElapsedTime += elapsed.Milliseconds()
		r.UpdatedAt = t.now()
		return nil
	})
	return t.finish(ctx, r, err)
}

// Cancel marks a pending, running or interrupted record cancelled.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	r, err := t.store.Update(ctx, id, func(r *Record) error {
		if r.Status == StatusCancelled {
			return ErrNoChange
		}
		if !CanTransition(r.Status, StatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusCancelled)
		}
		r.Status = StatusCancelled
		r.Operation = nil
		r.UpdatedAt = t.now()
		return nil
	})
	return t.finish(ctx, r, err)
}

// AddTokens adds usage to a running record without changing its status.
func (t *Tracker) AddTokens(ctx context.Context, id string, tokens, embedTokens int64) error {
	if tokens == 0 && embedTokens == 0 {
		return nil
	}
	_, err := t.store.Update(ctx, id, func(r *Record) error {
		r.Tokens += tokens
		r.EmbedTokens += embedTokens
		return nil
	})
	return err
}

// Suspend stores op on the record and marks it interrupted.
func (t *Tracker) Suspend(ctx context.Context, id string, op *Operation, checkpointID string) error {
	r, err := t.store.Update(ctx, id, func(r *Record) error {
		if !CanTransition(r.Status, StatusInterrupted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusInterrupted)
		}
		r.Status = StatusInterrupted
		r.Operation = op
		r.ResumeKey = ""
		if checkpointID != "" {
			r.CheckpointID = checkpointID
		}
		r.UpdatedAt = t.now()
		return nil
	})
	if err != nil {
		return err
	}
	e := event.New(event.KindInterrupt, r.AgentKey, op,
		event.WithName(r.Title),
		event.WithExecution(r.ID, r.ParentID),
		event.WithCheckpoint(r.ThreadID, r.CheckpointNs, r.CheckpointID))
	if err := t.emitter.Emit(ctx, e); err != nil {
		log.Debugf("execution: drop interrupt event for %s: %v", r.ID, err)
	}
	return nil
}

// ConsumeOperation atomically takes the pending operation of an interrupted
// record and stamps it with key. A second call with the same key after the
// operation was taken returns (nil, nil) so that duplicated resumes are
// no-ops; a different key returns ErrAlreadyResumed.
func (t *Tracker) ConsumeOperation(ctx context.Context, id, key string) (*Operation, error) {
	var op *Operation
	_, err := t.store.Update(ctx, id, func(r *Record) error {
		if r.Operation == nil {
			switch {
			case r.ResumeKey == "":
				return ErrNoPendingOperation
			case r.ResumeKey == key:
				return ErrNoChange
			default:
				return ErrAlreadyResumed
			}
		}
		op = r.Operation
		r.Operation = nil
		r.ResumeKey = key
		r.UpdatedAt = t.now()
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// Resume moves an interrupted record back to running, reusing its id.
func (t *Tracker) Resume(ctx context.Context, id string) error {
	r, err := t.store.Update(ctx, id, func(r *Record) error {
		if r.Status == StatusRunning {
			return ErrNoChange
		}
		if !CanTransition(r.Status, StatusRunning) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusRunning)
		}
		r.Status = StatusRunning
		r.UpdatedAt = t.now()
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	t.emit(ctx, r, true)
	return nil
}

// Get returns the record with id.
func (t *Tracker) Get(ctx context.Context, id string) (*Record, error) {
	return t.store.Get(ctx, id)
}

// Tree returns the record with all of its descendants attached.
func (t *Tracker) Tree(ctx context.Context, id string) (*Record, error) {
	r, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := t.attach(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (t *Tracker) attach(ctx context.Context, r *Record) error {
	children, err := t.store.Children(ctx, r.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := t.attach(ctx, c); err != nil {
			return err
		}
	}
	r.SubExecutions = children
	return nil
}

// TotalTokens sums the tokens of id and its descendants.
func (t *Tracker) TotalTokens(ctx context.Context, id string) (int64, error) {
	r, err := t.Tree(ctx, id)
	if err != nil {
		return 0, err
	}
	return r.TotalTokens(), nil
}

func (t *Tracker) finish(ctx context.Context, r *Record, err error) error {
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	t.emit(ctx, r, false)
	return nil
}

func (t *Tracker) emit(ctx context.Context, r *Record, start bool) {
	kind := event.KindAgentEnd
	switch {
	case r.ParentID == "" && start:
		kind = event.KindConversationStart
	case r.ParentID == "":
		kind = event.KindConversationEnd
	case start:
		kind = event.KindAgentStart
	}
	e := event.New(kind, r.AgentKey, r.Clone(),
		event.WithName(r.Title),
		event.WithExecution(r.ID, r.ParentID),
		event.WithCheckpoint(r.ThreadID, r.CheckpointNs, r.CheckpointID))
	if err := t.emitter.Emit(ctx, e); err != nil {
		log.Debugf("execution: drop %s event for %s: %v", kind, r.ID, err)
	}
}
