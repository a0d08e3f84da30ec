//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
	itelemetry "github.com/xpert-ai/xpert-sub002/internal/telemetry"
	"github.com/xpert-ai/xpert-sub002/telemetry/trace"
)

// ResumeRequest continues an interrupted run.
type ResumeRequest struct {
	XpertID         string               `json:"xpertId,omitempty"`
	AgentKey        string               `json:"agentKey,omitempty"`
	ExecutionID     string               `json:"executionId"`
	Operation       *execution.Operation `json:"operation,omitempty"`
	Reject          bool                 `json:"reject,omitempty"`
	Confirm         bool                 `json:"confirm,omitempty"`
	InterruptBefore []string             `json:"interruptBefore,omitempty"`
}

// Key fingerprints the decision. Sending the same decision twice resumes
// once.
func (r *ResumeRequest) Key() (string, error) {
	b, err := json.Marshal(struct {
		Operation *execution.Operation `json:"operation,omitempty"`
		Reject    bool                 `json:"reject"`
		Confirm   bool                 `json:"confirm"`
	}{r.Operation, r.Reject, r.Confirm})
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:16]), nil
}

// Resume continues an interrupted run with the human decision. Repeating
// the decision that already resumed the run returns a finished handle
// marked Duplicate; any other decision after that fails with
// execution.ErrAlreadyResumed.
func (r *Runner) Resume(ctx context.Context, req ResumeRequest) (*Handle, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameResume)
	defer span.End()
	span.SetAttributes(attribute.String(itelemetry.KeyExecutionID, req.ExecutionID))

	rec, err := r.tracker.Get(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}
	if rec.ParentID != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotRoot, rec.ID)
	}
	if req.XpertID != "" && rec.XpertID != req.XpertID {
		return nil, fmt.Errorf("%w: %s", ErrXpertMismatch, rec.ID)
	}
	key, err := req.Key()
	if err != nil {
		return nil, fmt.Errorf("runner: resume key: %w", err)
	}

	var (
		exec *graph.Executor
		ckpt *graph.Checkpoint
	)
	// Prepare before consuming so a broken graph does not swallow the
	// pending operation.
	if rec.Operation != nil {
		if exec, err = r.executor(ctx, rec.XpertID); err != nil {
			return nil, err
		}
		ckpt, err = r.opts.saver.Get(ctx, graph.CheckpointAddress{ThreadID: rec.ThreadID, CheckpointID: rec.CheckpointID})
		if err != nil {
			return nil, fmt.Errorf("runner: load checkpoint of %s: %w", rec.ID, err)
		}
	}
	op, err := r.tracker.ConsumeOperation(ctx, rec.ID, key)
	if err != nil {
		return nil, err
	}
	if op == nil || exec == nil {
		cur, err := r.tracker.Get(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		return finished(&graph.RunResult{ExecutionID: cur.ID, Status: cur.Status, Output: cur.Outputs}, cur.ThreadID), nil
	}

	stream := event.NewStream(r.opts.bufferSize)
	run := graph.NewRun(graph.RuntimeConfig{
		XpertID:         rec.XpertID,
		AgentKey:        req.AgentKey,
		ThreadID:        rec.ThreadID,
		InterruptBefore: req.InterruptBefore,
	}, r.tracker.WithEmitter(stream), stream)
	decision := &graph.ResumeDecision{Confirm: req.Confirm, Reject: req.Reject, Operation: req.Operation}
	h := &Handle{ExecutionID: rec.ID, ThreadID: rec.ThreadID, events: stream.Events(), run: run, done: make(chan struct{})}
	r.launch(ctx, h, stream, func(ctx context.Context) (*graph.RunResult, error) {
		return exec.Resume(ctx, run, ckpt, decision)
	})
	return h, nil
}
