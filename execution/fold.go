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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/log"
)

// Folder rebuilds the execution tree on the consumer side from the event
// stream. Applying the same event twice has no further effect; unknown
// kinds are logged and ignored.
type Folder struct {
	mu sync.Mutex
	// seen holds ids of applied events.
	seen map[string]struct{}
	// records is keyed by agent key for nodes and by name|ns for tools
	// and retrievers.
	records      map[string]*Record
	toolMessages map[string][]any
	messages     map[string]*strings.Builder
}

// NewFolder creates an empty folder.
func NewFolder() *Folder {
	return &Folder{
		seen:         make(map[string]struct{}),
		records:      make(map[string]*Record),
		toolMessages: make(map[string][]any),
		messages:     make(map[string]*strings.Builder),
	}
}

// ToolKey identifies a tool or retriever call inside its agent.
func ToolKey(name, checkpointNs string) string {
	return name + "|" + checkpointNs
}

// Apply folds one event.
func (f *Folder) Apply(e *event.Event) {
	if e == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID != "" {
		if _, ok := f.seen[e.ID]; ok {
			return
		}
		f.seen[e.ID] = struct{}{}
	}
	switch e.Kind {
	case event.KindConversationStart, event.KindConversationEnd,
		event.KindAgentStart, event.KindAgentEnd:
		f.upsertExecution(e)
	case event.KindInterrupt:
		f.applyInterrupt(e)
	case event.KindToolStart, event.KindRetrieverStart:
		f.startTool(e)
	case event.KindToolEnd, event.KindRetrieverEnd:
		f.endTool(e, StatusSuccess)
	case event.KindToolError, event.KindRetrieverError:
		f.endTool(e, StatusError)
	case event.KindToolMessage:
		k := ToolKey(e.Name, e.CheckpointNs())
		f.toolMessages[k] = append(f.toolMessages[k], e.Data)
	case event.KindMessage:
		f.appendMessage(e)
	default:
		if e.Type == event.TypeMessage {
			f.appendMessage(e)
			return
		}
		log.Debugf("execution: ignore unknown event kind %q", e.Kind)
	}
}

func (f *Folder) upsertExecution(e *event.Event) {
	r, ok := decodeRecord(e.Data)
	if !ok {
		log.Debugf("execution: %s event without record for %s", e.Kind, e.AgentKey)
		return
	}
	key := e.AgentKey
	if key == "" {
		key = r.AgentKey
	}
	// a late start must not revert an end state of the same execution
	if prev, ok := f.records[key]; ok && prev.ID == r.ID && prev.Status.Terminal() && !r.Status.Terminal() {
		return
	}
	f.records[key] = r
}

func (f *Folder) applyInterrupt(e *event.Event) {
	r, ok := f.records[e.AgentKey]
	if !ok {
		r = &Record{ID: e.ExecutionID(), AgentKey: e.AgentKey, Title: e.Name}
		if e.Metadata != nil {
			r.ParentID = e.Metadata.ParentID
		}
		f.records[e.AgentKey] = r
	}
	r.Status = StatusInterrupted
	var op Operation
	if convert(e.Data, &op) {
		r.Operation = &op
	}
}

func (f *Folder) startTool(e *event.Event) {
	k := ToolKey(e.Name, e.CheckpointNs())
	r := &Record{
		ID:           k,
		AgentKey:     e.Name,
		Title:        e.Name,
		Status:       StatusRunning,
		Inputs:       e.Data,
		CheckpointNs: e.CheckpointNs(),
		CreatedAt:    e.Timestamp,
		UpdatedAt:    e.Timestamp,
	}
	if e.Metadata != nil {
		r.ParentID = e.Metadata.ExecutionID
	}
	if prev, ok := f.records[k]; ok && prev.Status.Terminal() {
		return
	}
	f.records[k] = r
}

func (f *Folder) endTool(e *event.Event, status Status) {
	k := ToolKey(e.Name, e.CheckpointNs())
	r, ok := f.records[k]
	if !ok {
		r = &Record{ID: k, AgentKey: e.Name, Title: e.Name, CheckpointNs: e.CheckpointNs(), CreatedAt: e.Timestamp}
		if e.Metadata != nil {
			r.ParentID = e.Metadata.ExecutionID
		}
		f.records[k] = r
	}
	r.Status = status
	r.UpdatedAt = e.Timestamp
	if status == StatusError {
		r.Error = fmt.Sprint(e.Data)
		return
	}
	r.Outputs = e.Data
}

func (f *Folder) appendMessage(e *event.Event) {
	thread := ""
	if e.Metadata != nil {
		thread = e.Metadata.ThreadID
	}
	b, ok := f.messages[thread]
	if !ok {
		b = &strings.Builder{}
		f.messages[thread] = b
	}
	switch v := e.Data.(type) {
	case string:
		b.WriteString(v)
	case nil:
	default:
		b.WriteString(fmt.Sprint(v))
	}
}

// Record returns a copy of the folded record for an agent key or tool key.
func (f *Folder) Record(key string) (*Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[key]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Message returns the text streamed so far on a thread.
func (f *Folder) Message(threadID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.messages[threadID]; ok {
		return b.String()
	}
	return ""
}

// ToolMessages returns intermediate tool output in arrival order.
func (f *Folder) ToolMessages(name, checkpointNs string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.toolMessages[ToolKey(name, checkpointNs)]...)
}

// Tree returns the folded records arranged by parent id. Records whose
// parent is unknown are roots.
func (f *Folder) Tree() []*Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := make(map[string]*Record, len(f.records))
	for _, r := range f.records {
		byID[r.ID] = r.Clone()
	}
	var roots []*Record
	for _, r := range byID {
		if p, ok := byID[r.ParentID]; ok && r.ParentID != "" && p != r {
			p.SubExecutions = append(p.SubExecutions, r)
			continue
		}
		roots = append(roots, r)
	}
	for _, r := range byID {
		sortRecords(r.SubExecutions)
	}
	sortRecords(roots)
	return roots
}

func sortRecords(rs []*Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func decodeRecord(data any) (*Record, bool) {
	switch v := data.(type) {
	case *Record:
		if v == nil {
			return nil, false
		}
		return v.Clone(), true
	case Record:
		return v.Clone(), true
	}
	var r Record
	if !convert(data, &r) || r.ID == "" {
		return nil, false
	}
	return &r, true
}

// convert handles payloads that went through JSON on the wire.
func convert(data any, out any) bool {
	if data == nil {
		return false
	}
	b, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}
