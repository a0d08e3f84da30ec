//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event provides the event vocabulary streamed while a graph runs.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type separates text chunks from lifecycle events on the wire.
type Type string

// Wire types.
const (
	TypeMessage Type = "message"
	TypeEvent   Type = "event"
)

// Kind is the discriminator of a lifecycle event.
type Kind string

// Event kinds.
const (
	KindConversationStart Kind = "CONVERSATION_START"
	KindConversationEnd   Kind = "CONVERSATION_END"
	KindAgentStart        Kind = "AGENT_START"
	KindAgentEnd          Kind = "AGENT_END"
	KindToolStart         Kind = "TOOL_START"
	KindToolEnd           Kind = "TOOL_END"
	KindToolError         Kind = "TOOL_ERROR"
	KindRetrieverStart    Kind = "RETRIEVER_START"
	KindRetrieverEnd      Kind = "RETRIEVER_END"
	KindRetrieverError    Kind = "RETRIEVER_ERROR"
	KindMessage           Kind = "MESSAGE"
	KindInterrupt         Kind = "INTERRUPT"
	KindToolMessage       Kind = "TOOL_MESSAGE"
)

var knownKinds = map[Kind]struct{}{
	KindConversationStart: {}, KindConversationEnd: {},
	KindAgentStart: {}, KindAgentEnd: {},
	KindToolStart: {}, KindToolEnd: {}, KindToolError: {},
	KindRetrieverStart: {}, KindRetrieverEnd: {}, KindRetrieverError: {},
	KindMessage: {}, KindInterrupt: {}, KindToolMessage: {},
}

// Known reports whether k belongs to the event vocabulary.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Metadata carries the addressing information a consumer needs to place an
// event in the execution tree.
type Metadata struct {
	ExecutionID  string         `json:"executionId,omitempty"`
	ParentID     string         `json:"parentId,omitempty"`
	ThreadID     string         `json:"threadId,omitempty"`
	CheckpointNs string         `json:"checkpointNs,omitempty"`
	CheckpointID string         `json:"checkpointId,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Event is one message of the run stream.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Kind      Kind      `json:"event,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// AgentKey is the node key the event belongs to.
	AgentKey string    `json:"agentKey,omitempty"`
	Name     string    `json:"name,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Data     any       `json:"data,omitempty"`
}

// Option is a function that can be used to configure the Event.
type Option func(*Event)

// WithName sets the tool, retriever or node name of the event.
func WithName(name string) Option {
	return func(e *Event) {
		e.Name = name
	}
}

// WithMetadata sets the metadata of the event.
func WithMetadata(md *Metadata) Option {
	return func(e *Event) {
		e.Metadata = md
	}
}

// WithExecution fills the execution and parent ids of the metadata.
func WithExecution(executionID, parentID string) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = &Metadata{}
		}
		e.Metadata.ExecutionID = executionID
		e.Metadata.ParentID = parentID
	}
}

// WithCheckpoint fills the checkpoint address of the metadata.
func WithCheckpoint(threadID, ns, id string) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = &Metadata{}
		}
		e.Metadata.ThreadID = threadID
		e.Metadata.CheckpointNs = ns
		e.Metadata.CheckpointID = id
	}
}

// New creates a lifecycle event with generated ID and timestamp.
func New(kind Kind, agentKey string, data any, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		Type:      TypeEvent,
		Kind:      kind,
		Timestamp: time.Now(),
		AgentKey:  agentKey,
		Data:      data,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewMessage creates an incremental text event.
func NewMessage(agentKey, text string, opts ...Option) *Event {
	e := New(KindMessage, agentKey, text, opts...)
	e.Type = TypeMessage
	return e
}

// CheckpointNs returns the checkpoint namespace of the event, if any.
func (e *Event) CheckpointNs() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	return e.Metadata.CheckpointNs
}

// ExecutionID returns the execution id of the event, if any.
func (e *Event) ExecutionID() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	return e.Metadata.ExecutionID
}
