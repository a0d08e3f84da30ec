//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package nodes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/internal/fanout"
)

// DefaultIteratorConcurrency bounds parallel iterations when the entity
// does not.
const DefaultIteratorConcurrency = 5

type iteratorEntity struct {
	InputVariable string `json:"inputVariable"`
	// OutputVariable selects the value collected from each iteration; the
	// iteration output is used when empty.
	OutputVariable string           `json:"outputVariable,omitempty"`
	Parallel       bool             `json:"parallel,omitempty"`
	Concurrency    int              `json:"concurrency,omitempty"`
	Maximum        int              `json:"maximum,omitempty"`
	ErrorMode      fanout.ErrorMode `json:"errorMode,omitempty"`
}

// iteratorStrategy runs its compiled body once per item. Each iteration
// works on a fork of the state whose iterator channel holds item and index.
type iteratorStrategy struct{}

func (iteratorStrategy) Compile(_ context.Context, n *graph.Node, cc *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[iteratorEntity](n)
	if err != nil {
		return nil, err
	}
	if cc.Subgraph == nil {
		return nil, fmt.Errorf("iterator %s: %w", n.Key, graph.ErrSubgraphUnavailable)
	}
	sel, err := parseSelector("inputVariable", ent.InputVariable)
	if err != nil {
		return nil, fmt.Errorf("iterator %s: %w", n.Key, err)
	}
	var outSel *graph.Selector
	if ent.OutputVariable != "" {
		s, err := parseSelector("outputVariable", ent.OutputVariable)
		if err != nil {
			return nil, fmt.Errorf("iterator %s: %w", n.Key, err)
		}
		outSel = &s
	}
	switch ent.ErrorMode {
	case "", fanout.ErrorModeTerminate, fanout.ErrorModeIgnore, fanout.ErrorModeRemove:
	default:
		return nil, fmt.Errorf("iterator %s: unknown error mode %q", n.Key, ent.ErrorMode)
	}
	limit := ent.Concurrency
	if limit <= 0 {
		limit = DefaultIteratorConcurrency
	}
	sub := cc.Subgraph
	key := n.Key

	exec := func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		raw, _ := nc.State.Select(sel)
		items, ok := toList(raw)
		if !ok {
			return nil, fmt.Errorf("iterator %s: %s is %T, not a list", key, sel, raw)
		}
		it := &iteration{nc: nc, sub: sub, key: key, outSel: outSel, prior: nc.Suspended()}
		tasks := make([]fanout.Task[any], len(items))
		for i, item := range items {
			tasks[i] = func(ctx context.Context) (any, error) {
				// A sequential iterator stops at the first item that waits
				// for a confirmation; the rest run after the resume.
				if !ent.Parallel && it.halted() {
					return nil, nil
				}
				return it.run(ctx, i, item)
			}
		}
		results, err := fanout.RunBounded(ctx, tasks, fanout.Options{
			Limit:     limit,
			Parallel:  ent.Parallel,
			Maximum:   ent.Maximum,
			ErrorMode: ent.ErrorMode,
			Cancelled: nc.Run.Cancelled,
		})
		if errors.Is(err, fanout.ErrCancelled) {
			return nil, fmt.Errorf("iterator %s: %w", key, graph.ErrRunCancelled)
		}
		if err != nil {
			return nil, fmt.Errorf("iterator %s: %w", key, err)
		}
		if ie := it.interrupt(); ie != nil {
			return nil, ie
		}
		output := make([]any, 0, len(results))
		for _, r := range results {
			output = append(output, r.Value)
		}
		patch := map[string]any{"output": output, "errors": it.failures()}
		return &graph.Result{Patch: patch, Output: output}, nil
	}
	return &graph.Unit{Execute: exec, Reads: readsOf(sel, outSel), Subgraph: sub}, nil
}

// iteration tracks the items of one iterator execution. Items are named by
// their index; prior is the progress saved when an earlier attempt stopped
// at an interrupt.
type iteration struct {
	nc     *graph.NodeContext
	sub    *graph.CompiledGraph
	key    string
	outSel *graph.Selector
	prior  *graph.GroupState

	mu        sync.Mutex
	done      map[string]any
	failed    map[int]string
	suspended map[int]*graph.InterruptError
}

func (it *iteration) halted() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.suspended) > 0
}

// run executes item i, or picks it up from prior. An interrupt is kept
// aside instead of failing the item so the other items are not cancelled.
func (it *iteration) run(ctx context.Context, i int, item any) (any, error) {
	name := strconv.Itoa(i)
	v, err := it.execute(ctx, i, name, item)

	it.mu.Lock()
	defer it.mu.Unlock()
	if ie, ok := graph.AsInterrupt(err); ok && ie.Scope != nil {
		if it.suspended == nil {
			it.suspended = make(map[int]*graph.InterruptError)
		}
		it.suspended[i] = ie
		return nil, nil
	}
	if err != nil {
		if it.failed == nil {
			it.failed = make(map[int]string)
		}
		it.failed[i] = err.Error()
		return nil, err
	}
	if it.done == nil {
		it.done = make(map[string]any)
	}
	it.done[name] = v
	return v, nil
}

func (it *iteration) execute(ctx context.Context, i int, name string, item any) (any, error) {
	var (
		r   *graph.ScopeResult
		err error
	)
	switch {
	case it.prior != nil && hasKey(it.prior.Done, name):
		return it.prior.Done[name], nil
	case it.prior != nil && it.prior.Failed[name] != "":
		return nil, errors.New(it.prior.Failed[name])
	case it.prior != nil && it.prior.Suspended[name] != nil:
		r, err = it.nc.ResumeSubgraph(ctx, it.sub, name, it.prior.Suspended[name])
	default:
		st := it.nc.Fork()
		graph.SetScope(st, it.key, map[string]any{"item": item, "index": i})
		r, err = it.nc.RunSubgraph(ctx, it.sub, st, name)
	}
	if err != nil {
		return nil, err
	}
	if it.outSel != nil {
		v, _ := r.State.Select(*it.outSel)
		return v, nil
	}
	return r.Output, nil
}

// interrupt reports the item with the lowest index that waits for a
// confirmation, carrying the progress of every item so a resume skips
// the ones that finished.
func (it *iteration) interrupt() *graph.InterruptError {
	it.mu.Lock()
	defer it.mu.Unlock()
	if len(it.suspended) == 0 {
		return nil
	}
	progress := &graph.GroupState{
		Done:      it.done,
		Suspended: make(map[string]*graph.ScopeState, len(it.suspended)),
	}
	first := -1
	for i, ie := range it.suspended {
		progress.Suspended[strconv.Itoa(i)] = ie.Scope
		if first < 0 || i < first {
			first = i
		}
	}
	if len(it.failed) > 0 {
		progress.Failed = make(map[string]string, len(it.failed))
		for i, msg := range it.failed {
			progress.Failed[strconv.Itoa(i)] = msg
		}
	}
	ie := it.suspended[first]
	return &graph.InterruptError{
		NodeKey:   ie.NodeKey,
		Operation: ie.Operation,
		Path:      ie.Path,
		Group:     progress,
	}
}

func (it *iteration) failures() []any {
	it.mu.Lock()
	defer it.mu.Unlock()
	indexes := make([]int, 0, len(it.failed))
	for i := range it.failed {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]any, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, map[string]any{"index": i, "error": it.failed[i]})
	}
	return out
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}

func readsOf(sel graph.Selector, extra *graph.Selector) []graph.Selector {
	if extra == nil {
		return []graph.Selector{sel}
	}
	return []graph.Selector{sel, *extra}
}

func (iteratorStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{
		{Name: "item", Type: graph.ParamAny},
		{Name: "index", Type: graph.ParamNumber},
		{Name: "output", Type: graph.ParamArray},
		{Name: "errors", Type: graph.ParamArray, Children: []graph.Parameter{
			{Name: "index", Type: graph.ParamNumber},
			{Name: "error", Type: graph.ParamString},
		}},
	}, nil
}
