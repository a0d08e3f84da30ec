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
	"errors"
	"fmt"

	"github.com/xpert-ai/xpert-sub002/execution"
)

// InterruptError stops a run before a sensitive operation. Nodes return it
// from NodeContext.Confirm; the executor turns it into a suspension.
type InterruptError struct {
	NodeKey   string
	Operation *execution.Operation
	// Path is the nested location of the node that asked.
	Path string
	// Scope is set by NodeContext.RunSubgraph to the nested graph that
	// stopped, so the group node can hand it back to ResumeSubgraph.
	Scope *ScopeState
	// Group is set by a group node to the progress of its nested runs.
	Group *GroupState
}

func (e *InterruptError) Error() string {
	n := 0
	if e.Operation != nil {
		n = len(e.Operation.ToolCalls)
	}
	return fmt.Sprintf("interrupt before %s: %d tool call(s) need confirmation", e.NodeKey, n)
}

// IsInterrupt reports whether err carries an InterruptError.
func IsInterrupt(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

// AsInterrupt extracts the InterruptError from err.
func AsInterrupt(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// ResumeDecision is the human answer to a pending operation.
type ResumeDecision struct {
	Confirm bool
	Reject  bool
	// Operation replaces the stored tool calls when the caller edited them.
	Operation *execution.Operation
}

// Approval is what a sensitive node gets back from Confirm.
type Approval struct {
	Rejected bool
	// Resumed is true when the approval comes from a resume rather than
	// from the node not being sensitive.
	Resumed   bool
	Operation *execution.Operation
}

// CheckSensitive reports whether name is in the interruptBefore set.
func CheckSensitive(name string, cfg *RuntimeConfig) bool {
	if cfg == nil || name == "" {
		return false
	}
	for _, n := range cfg.InterruptBefore {
		if n == name {
			return true
		}
	}
	return false
}

// apply merges the decision into the stored operation.
func (d *ResumeDecision) apply(stored *execution.Operation) *Approval {
	op := stored
	if d.Operation != nil && len(d.Operation.ToolCalls) > 0 {
		edited := *stored
		edited.ToolCalls = d.Operation.ToolCalls
		op = &edited
	}
	return &Approval{Rejected: d.Reject && !d.Confirm, Resumed: true, Operation: op}
}
