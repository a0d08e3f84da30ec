//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package execution keeps the hierarchical record of a run.
package execution

import (
	"encoding/json"
	"errors"
	"time"
)

// Status of an execution record.
type Status string

// Statuses. Interrupted is a suspension of a running record, not an end state.
const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusPending:     {StatusRunning, StatusCancelled},
	StatusRunning:     {StatusSuccess, StatusError, StatusCancelled, StatusInterrupted},
	StatusInterrupted: {StatusRunning, StatusCancelled},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Errors returned by the tracker and the stores.
var (
	ErrNotFound           = errors.New("execution: record not found")
	ErrParentNotFound     = errors.New("execution: parent record not found")
	ErrInvalidTransition  = errors.New("execution: invalid status transition")
	ErrNoPendingOperation = errors.New("execution: no pending operation")
	ErrAlreadyResumed     = errors.New("execution: operation already resumed")
	// ErrNoChange is returned by an update function to leave the record untouched.
	ErrNoChange = errors.New("execution: no change")
)

// ToolCall is a call an agent or tool node wants to make.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolCallEntry pairs a call with its result, when the caller supplied one.
type ToolCallEntry struct {
	Call   ToolCall `json:"call"`
	Result any      `json:"result,omitempty"`
}

// Operation is a sensitive action waiting for human confirmation.
type Operation struct {
	// NodeKey is the node that stopped.
	NodeKey             string          `json:"nodeKey"`
	ToolCalls           []ToolCallEntry `json:"toolCalls"`
	PredecessorAgentKey string          `json:"predecessorAgentKey,omitempty"`
	// Messages holds provider specific context needed to continue the node,
	// such as the assistant message that proposed the calls.
	Messages json.RawMessage `json:"messages,omitempty"`
}

// Record is one node of the execution tree.
type Record struct {
	ID           string `json:"id"`
	ParentID     string `json:"parentId,omitempty"`
	AgentKey     string `json:"agentKey"`
	Title        string `json:"title,omitempty"`
	NodeType     string `json:"nodeType,omitempty"`
	XpertID      string `json:"xpertId,omitempty"`
	ThreadID     string `json:"threadId,omitempty"`
	CheckpointID string `json:"checkpointId,omitempty"`
	CheckpointNs string `json:"checkpointNs,omitempty"`

	Status  Status `json:"status"`
	Inputs  any    `json:"inputs,omitempty"`
	Outputs any    `json:"outputs,omitempty"`
	Error   string `json:"error,omitempty"`

	Tokens      int64 `json:"tokens"`
	EmbedTokens int64 `json:"embedTokens"`
	// ElapsedTime is in milliseconds.
	ElapsedTime int64 `json:"elapsedTime"`

	Operation *Operation `json:"operation,omitempty"`
	// ResumeKey fingerprints the last resume that consumed Operation.
	ResumeKey string `json:"resumeKey,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// SubExecutions is only filled by tree queries.
	SubExecutions []*Record `json:"subExecutions,omitempty"`
}

// Clone copies the record without its sub executions.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.SubExecutions = nil
	if r.Operation != nil {
		op := *r.Operation
		op.ToolCalls = append([]ToolCallEntry(nil), r.Operation.ToolCalls...)
		c.Operation = &op
	}
	return &c
}

// TotalTokens sums the tokens of r and of every record below it. It is
// derived from SubExecutions and never stored.
func (r *Record) TotalTokens() int64 {
	if r == nil {
		return 0
	}
	total := r.Tokens
	for _, c := range r.SubExecutions {
		total += c.TotalTokens()
	}
	return total
}
