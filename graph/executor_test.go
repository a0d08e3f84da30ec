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
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/execution"
)

func compileWith(t *testing.T, s *stubStrategy, g *Graph, opts ...ExecutorOption) *Executor {
	t.Helper()
	cg, err := NewCompiler(newStubRegistry(s)).Compile(context.Background(), g)
	require.NoError(t, err)
	ex, err := NewExecutor(cg, opts...)
	require.NoError(t, err)
	return ex
}

func TestExecute_Linear(t *testing.T) {
	s := &stubStrategy{behaviours: map[string]Executable{
		"b": func(_ context.Context, nc *NodeContext) (*Result, error) {
			return &Result{Output: nc.Render("got {{a.out}} for {{sys.query}}"), Tokens: 5}, nil
		},
	}}
	ex := compileWith(t, s, linearGraph())
	run := newTestRun("t1")
	res, err := ex.Execute(context.Background(), run, map[string]any{"query": "hi"})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, res.Status)
	assert.Equal(t, "got a for hi", res.Output)
	assert.Equal(t, "a", res.State["a"]["out"])

	tree, err := run.Tracker.Tree(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, tree.Status)
	require.Len(t, tree.SubExecutions, 3)
	assert.Equal(t, int64(5), tree.TotalTokens())
}

func TestExecute_BranchAndParallel(t *testing.T) {
	var running, peak atomic.Int32
	slow := func(key string) Executable {
		return func(context.Context, *NodeContext) (*Result, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return &Result{Patch: map[string]any{"out": key}, Output: key}, nil
		}
	}
	s := &stubStrategy{
		handles: map[string][]string{"if": {"yes", HandleElse}},
		behaviours: map[string]Executable{
			"if": func(context.Context, *NodeContext) (*Result, error) { return &Result{Handle: HandleElse}, nil },
			"p1": slow("p1"),
			"p2": slow("p2"),
		},
	}
	g := &Graph{
		Nodes: []*Node{
			node("if", NodeTypeIfElse, ""), node("never", NodeTypeAnswer, ""),
			node("p1", NodeTypeCode, ""), node("p2", NodeTypeCode, ""),
		},
		Connections:   []*Connection{edge("if/yes", "never"), edge("if/else", "p1"), edge("if/else", "p2")},
		StartNodeKeys: []string{"if"},
	}
	res, err := compileWith(t, s, g).Execute(context.Background(), newTestRun(""), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"p1": "p1", "p2": "p2"}, res.Output)
	assert.NotContains(t, res.State, "never")
	assert.Equal(t, int32(2), peak.Load())
}

func TestExecute_ErrorPropagates(t *testing.T) {
	s := &stubStrategy{behaviours: map[string]Executable{
		"a": func(context.Context, *NodeContext) (*Result, error) { return nil, errors.New("upstream 502") },
	}}
	run := newTestRun("")
	res, err := compileWith(t, s, linearGraph()).Execute(context.Background(), run, nil)
	var ne *NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "a", ne.NodeKey)
	assert.Equal(t, execution.StatusError, res.Status)

	tree, terr := run.Tracker.Tree(context.Background(), res.ExecutionID)
	require.NoError(t, terr)
	assert.Equal(t, execution.StatusError, tree.Status)
	var failed *execution.Record
	for _, c := range tree.SubExecutions {
		if c.AgentKey == "a" {
			failed = c
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "upstream 502", failed.Error)
	assert.Len(t, tree.SubExecutions, 2, "b never starts")
}

func TestExecute_DefaultValue(t *testing.T) {
	g := linearGraph()
	g.Nodes[1] = node("a", NodeTypeCode, `{"errorHandling":{"type":"default-value","defaultValue":{"out":"fallback"}}}`)
	s := &stubStrategy{behaviours: map[string]Executable{
		"a": func(context.Context, *NodeContext) (*Result, error) { return nil, errors.New("boom") },
		"b": func(_ context.Context, nc *NodeContext) (*Result, error) {
			return &Result{Output: nc.Render("{{a.out}}")}, nil
		},
	}}
	res, err := compileWith(t, s, g).Execute(context.Background(), newTestRun(""), nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Output)
}

func TestExecute_FailBranch(t *testing.T) {
	g := &Graph{
		Nodes: []*Node{
			node("h", NodeTypeHTTP, `{"errorHandling":{"type":"fail-branch"}}`),
			node("ok", NodeTypeAnswer, ""),
			node("recover", NodeTypeAnswer, ""),
		},
		Connections:   []*Connection{edge("h", "ok"), edge("h/fail", "recover")},
		StartNodeKeys: []string{"h"},
	}
	s := &stubStrategy{behaviours: map[string]Executable{
		"h": func(context.Context, *NodeContext) (*Result, error) { panic("bad state") },
		"recover": func(_ context.Context, nc *NodeContext) (*Result, error) {
			return &Result{Output: nc.Render("{{h.error}}")}, nil
		},
	}}
	res, err := compileWith(t, s, g).Execute(context.Background(), newTestRun(""), nil)
	require.NoError(t, err)
	assert.Equal(t, "panic: bad state", res.Output)
	assert.NotContains(t, res.State, "ok")
}

func TestExecute_Retry(t *testing.T) {
	g := linearGraph()
	g.Nodes[1] = node("a", NodeTypeCode, `{"retry":{"enabled":true,"stopAfterAttempt":3,"retryInterval":0.001}}`)
	var calls atomic.Int32
	s := &stubStrategy{behaviours: map[string]Executable{
		"a": func(context.Context, *NodeContext) (*Result, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("flaky")
			}
			return &Result{Patch: map[string]any{"out": "third"}}, nil
		},
	}}
	res, err := compileWith(t, s, g).Execute(context.Background(), newTestRun(""), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "third", res.State["a"]["out"])
}

func TestExecute_NodeTimeout(t *testing.T) {
	g := linearGraph()
	g.Nodes[1] = node("a", NodeTypeCode, `{"timeout":0.01}`)
	s := &stubStrategy{behaviours: map[string]Executable{
		"a": func(ctx context.Context, _ *NodeContext) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	_, err := compileWith(t, s, g).Execute(context.Background(), newTestRun(""), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_Cancel(t *testing.T) {
	run := newTestRun("")
	s := &stubStrategy{behaviours: map[string]Executable{
		"a": func(context.Context, *NodeContext) (*Result, error) {
			run.Cancel()
			return &Result{}, nil
		},
	}}
	res, err := compileWith(t, s, linearGraph()).Execute(context.Background(), run, nil)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, res.Status)
	assert.NotContains(t, res.State, "b")

	rec, err := run.Tracker.Get(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, rec.Status)
}

func TestExecute_MaxSteps(t *testing.T) {
	_, err := compileWith(t, &stubStrategy{}, linearGraph(), WithMaxSteps(2)).
		Execute(context.Background(), newTestRun(""), nil)
	require.ErrorIs(t, err, ErrMaxStepsExceeded)
}

func TestExecute_CheckpointsEveryStep(t *testing.T) {
	saver := newMemSaver()
	res, err := compileWith(t, &stubStrategy{}, linearGraph(), WithCheckpointSaver(saver)).
		Execute(context.Background(), newTestRun("thread-1"), map[string]any{"query": "q"})
	require.NoError(t, err)
	list, err := saver.List(context.Background(), "thread-1", "", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Empty(t, list[0].NextNodes)
	assert.Equal(t, list[1].ID, list[0].ParentID)
	assert.Equal(t, res.ExecutionID, list[0].ExecutionID)
	assert.Equal(t, "q", list[2].ChannelValues[SysChannel]["query"])
}

func TestExecute_InterruptAndResume(t *testing.T) {
	ctx := context.Background()
	var acted atomic.Int32
	s := &stubStrategy{behaviours: map[string]Executable{
		"a": func(_ context.Context, nc *NodeContext) (*Result, error) {
			op := &execution.Operation{ToolCalls: []execution.ToolCallEntry{
				{Call: execution.ToolCall{ID: "c1", Name: "rm", Args: map[string]any{"path": "/tmp/x"}}},
			}}
			if nc.Sensitive("rm") {
				ap, err := nc.Confirm(op)
				if err != nil {
					return nil, err
				}
				if ap.Rejected {
					return &Result{Patch: map[string]any{"out": "rejected"}}, nil
				}
				op = ap.Operation
			}
			acted.Add(1)
			return &Result{Patch: map[string]any{"out": op.ToolCalls[0].Call.Args["path"]}}, nil
		},
		"b": func(_ context.Context, nc *NodeContext) (*Result, error) {
			return &Result{Output: nc.Render("{{a.out}}")}, nil
		},
	}}
	saver := newMemSaver()
	ex := compileWith(t, s, linearGraph(), WithCheckpointSaver(saver))
	run := newTestRun("thread-9", "rm")

	res, err := ex.Execute(ctx, run, nil)
	require.NoError(t, err)
	require.Equal(t, execution.StatusInterrupted, res.Status)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, "a", res.Interrupt.NodeKey)
	assert.Equal(t, int32(0), acted.Load())

	root, err := run.Tracker.Get(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusInterrupted, root.Status)
	require.NotNil(t, root.Operation)
	assert.Equal(t, res.Interrupt.Address.CheckpointID, root.CheckpointID)

	ckpt, err := saver.Get(ctx, res.Interrupt.Address)
	require.NoError(t, err)
	require.NotNil(t, ckpt.InterruptState)

	_, err = run.Tracker.ConsumeOperation(ctx, res.ExecutionID, "resume-1")
	require.NoError(t, err)

	edited := &execution.Operation{ToolCalls: []execution.ToolCallEntry{
		{Call: execution.ToolCall{ID: "c1", Name: "rm", Args: map[string]any{"path": "/tmp/y"}}},
	}}
	resumed := NewRun(run.Config, run.Tracker, nil)
	out, err := ex.Resume(ctx, resumed, ckpt, &ResumeDecision{Confirm: true, Operation: edited})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, out.Status)
	assert.Equal(t, "/tmp/y", out.Output)
	assert.Equal(t, res.ExecutionID, out.ExecutionID)
	assert.Equal(t, int32(1), acted.Load())

	tree, err := run.Tracker.Tree(ctx, res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, tree.SubExecutions, 3, "the interrupted record is reused")
	for _, c := range tree.SubExecutions {
		assert.Equal(t, execution.StatusSuccess, c.Status, c.AgentKey)
	}
}

func TestExecute_ResumeReject(t *testing.T) {
	ctx := context.Background()
	s := &stubStrategy{behaviours: map[string]Executable{
		"a": func(_ context.Context, nc *NodeContext) (*Result, error) {
			ap, err := nc.Confirm(&execution.Operation{})
			if err != nil {
				return nil, err
			}
			if ap.Rejected {
				return &Result{Patch: map[string]any{"out": "rejected"}}, nil
			}
			return &Result{Patch: map[string]any{"out": "done"}}, nil
		},
		"b": func(_ context.Context, nc *NodeContext) (*Result, error) {
			return &Result{Output: nc.Render("{{a.out}}")}, nil
		},
	}}
	saver := newMemSaver()
	ex := compileWith(t, s, linearGraph(), WithCheckpointSaver(saver))
	run := newTestRun("thread-r")
	res, err := ex.Execute(ctx, run, nil)
	require.NoError(t, err)
	ckpt, err := saver.Get(ctx, res.Interrupt.Address)
	require.NoError(t, err)

	out, err := ex.Resume(ctx, NewRun(run.Config, run.Tracker, nil), ckpt, &ResumeDecision{Reject: true})
	require.NoError(t, err)
	assert.Equal(t, "rejected", out.Output)
}

func TestExecute_Subgraph(t *testing.T) {
	g := &Graph{
		Nodes: []*Node{
			node("loop", NodeTypeIterator, ""),
			{Key: "double", Type: NodeTypeCode, ParentID: "loop"},
		},
		StartNodeKeys: []string{"loop"},
	}
	s := &stubStrategy{behaviours: map[string]Executable{
		"loop": func(ctx context.Context, nc *NodeContext) (*Result, error) {
			var out []any
			for i, item := range []any{1, 2, 3} {
				st := nc.Fork()
				SetScope(st, "loop", map[string]any{"item": item, "index": i})
				r, err := nc.RunSubgraph(ctx, nc.Compiled.Unit.Subgraph, st, strconv.Itoa(i))
				if err != nil {
					return nil, err
				}
				out = append(out, r.Output)
			}
			return &Result{Patch: map[string]any{"out": out}, Output: out}, nil
		},
		"double": func(_ context.Context, nc *NodeContext) (*Result, error) {
			v, _ := nc.State.Read("loop", "item")
			return &Result{Patch: map[string]any{"out": v.(int) * 2}, Output: v.(int) * 2}, nil
		},
	}}
	run := newTestRun("")
	res, err := compileWith(t, s, g).Execute(context.Background(), run, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{2, 4, 6}, res.Output)

	tree, err := run.Tracker.Tree(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, tree.SubExecutions, 1)
	assert.Len(t, tree.SubExecutions[0].SubExecutions, 3)
}
