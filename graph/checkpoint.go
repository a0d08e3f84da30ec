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
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xpert-ai/xpert-sub002/execution"
)

// CheckpointVersion is the format version written by this package.
const CheckpointVersion = 1

// CheckpointAddress identifies one checkpoint. An empty CheckpointID means
// the latest checkpoint of the thread and namespace.
type CheckpointAddress struct {
	ThreadID     string `json:"threadId"`
	Namespace    string `json:"checkpointNs"`
	CheckpointID string `json:"checkpointId,omitempty"`
}

// Checkpoint is the state of a run between two steps.
type Checkpoint struct {
	Version   int       `json:"v"`
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	Step      int       `json:"step"`
	GraphHash string    `json:"graph_hash,omitempty"`
	// XpertID names the graph the run belongs to.
	XpertID string `json:"xpert_id,omitempty"`
	// ExecutionID is the root record of the run.
	ExecutionID   string                    `json:"execution_id"`
	ChannelValues map[string]map[string]any `json:"channel_values"`
	// NextNodes run first when the checkpoint is resumed.
	NextNodes      []string        `json:"next_nodes,omitempty"`
	InterruptState *InterruptState `json:"interrupt_state,omitempty"`
}

// InterruptState is the pending node of an interrupted run.
type InterruptState struct {
	NodeKey string `json:"node_key"`
	// ExecutionID is the record of the interrupted node, reused on resume.
	ExecutionID string               `json:"execution_id"`
	Operation   *execution.Operation `json:"operation"`
	// Pending maps every node interrupted in the step to its record.
	Pending map[string]string `json:"pending,omitempty"`
	// Path locates the node that asked for confirmation when it runs
	// nested inside a group node, such as loop[1]/ask.
	Path string `json:"path,omitempty"`
	// Groups holds, per interrupted group node, the progress of its
	// nested runs.
	Groups map[string]*GroupState `json:"groups,omitempty"`
}

// decisionKey is where the resume decision is delivered.
func (is *InterruptState) decisionKey() string {
	if is.Path != "" {
		return is.Path
	}
	if is.Operation != nil && is.Operation.NodeKey != "" {
		return is.Operation.NodeKey
	}
	return is.NodeKey
}

// GroupState is the progress of a group node, such as an iterator, whose
// nested runs suspended. Runs are keyed by the name the node gave them.
type GroupState struct {
	// Done holds the output of every run that finished.
	Done map[string]any `json:"done,omitempty"`
	// Failed holds the error of every run that failed and was tolerated.
	Failed map[string]string `json:"failed,omitempty"`
	// Suspended holds the runs waiting on a confirmation.
	Suspended map[string]*ScopeState `json:"suspended,omitempty"`
}

// ScopeState is a nested graph stopped at an interrupt.
type ScopeState struct {
	Step          int                       `json:"step"`
	ChannelValues map[string]map[string]any `json:"channel_values"`
	NextNodes     []string                  `json:"next_nodes,omitempty"`
	// Pending maps every interrupted node of the scope to its record.
	Pending map[string]string      `json:"pending,omitempty"`
	Groups  map[string]*GroupState `json:"groups,omitempty"`
	// Outputs holds the terminals that finished before the interrupt.
	Outputs map[string]any `json:"outputs,omitempty"`
}

// NewCheckpointID returns a lexically sortable id.
func NewCheckpointID() string {
	return ulid.Make().String()
}

// CheckpointSaver stores checkpoints.
type CheckpointSaver interface {
	// Put stores c under the thread and namespace of addr and returns the
	// full address.
	Put(ctx context.Context, addr CheckpointAddress, c *Checkpoint) (CheckpointAddress, error)
	// Get loads the checkpoint at addr, the latest one when the id is
	// empty. It returns ErrCheckpointNotFound when nothing matches.
	Get(ctx context.Context, addr CheckpointAddress) (*Checkpoint, error)
	// List returns up to limit checkpoints of a thread namespace, newest
	// first. A limit of zero returns all of them.
	List(ctx context.Context, threadID, namespace string, limit int) ([]*Checkpoint, error)
	// DeleteThread removes every checkpoint of a thread.
	DeleteThread(ctx context.Context, threadID string) error
	Close() error
}
