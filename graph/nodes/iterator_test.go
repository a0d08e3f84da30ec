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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/tool"
	"github.com/xpert-ai/xpert-sub002/tool/function"
)

// cityLog records the cities the weather tool was called with. Iterations
// may call it concurrently.
type cityLog struct {
	mu     sync.Mutex
	cities []string
}

func (l *cityLog) add(c string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cities = append(l.cities, c)
}

func (l *cityLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.cities...)
}

func cityCatalog(t *testing.T, l *cityLog) *tool.Catalog {
	c := tool.NewCatalog()
	w := function.NewFunctionTool(func(_ context.Context, in weatherIn) (weatherOut, error) {
		l.add(in.City)
		return weatherOut{City: in.City, Sky: "sunny"}, nil
	}, function.WithName("weather"))
	require.NoError(t, c.Register("web", w))
	return c
}

// loopWeatherGraph asks for the weather of every city. Each iteration runs
// a template node before the tool so a resume that replays finished nodes
// shows up as extra records.
func loopWeatherGraph(parallel bool) string {
	return fmt.Sprintf(`{"nodes": [
	  {"key": "loop", "type": "iterator", "entity": {
	    "inputVariable": "sys.cities", "outputVariable": "ask.result.city", "parallel": %t
	  }},
	  {"key": "pre", "type": "template", "parentId": "loop", "entity": {
	    "template": "{{.c}}", "variables": [{"name": "c", "variableSelector": "loop.item"}]
	  }},
	  {"key": "ask", "type": "tool", "parentId": "loop", "entity": {
	    "toolset": "web", "tool": "weather", "parameters": {"city": "{{loop.item}}"}
	  }}
	], "connections": [{"from": "pre", "to": "ask"}], "startNodeKeys": ["loop"]}`, parallel)
}

func TestIterator_ResumeConfirmsEachItem(t *testing.T) {
	cases := []struct {
		name     string
		parallel bool
		cities   []any
	}{
		{"sequential one item", false, []any{"Paris"}},
		{"sequential several items", false, []any{"Paris", "Rome", "Oslo"}},
		{"parallel one item", true, []any{"Paris"}},
		{"parallel several items", true, []any{"Paris", "Rome", "Oslo"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			calls := &cityLog{}
			h := newHarness(t, Deps{Tools: cityCatalog(t, calls)})
			exec := h.executor(loopWeatherGraph(tc.parallel))

			res, err := exec.Execute(ctx, h.newRun("weather"), map[string]any{"cities": tc.cities})
			require.NoError(t, err)
			var asked []any
			for res.Status == execution.StatusInterrupted {
				require.Less(t, len(asked), len(tc.cities), "one confirmation per item")
				assert.Equal(t, "loop", res.Interrupt.NodeKey)
				require.Len(t, res.Interrupt.Operation.ToolCalls, 1)
				assert.Len(t, calls.list(), len(asked), "a tool runs only after its confirmation")
				asked = append(asked, res.Interrupt.Operation.ToolCalls[0].Call.Args["city"])

				res, err = h.resume(exec, &graph.ResumeDecision{Confirm: true}, "weather")
				require.NoError(t, err)
			}
			require.Equal(t, execution.StatusSuccess, res.Status)
			assert.Equal(t, tc.cities, asked)
			assert.Equal(t, tc.cities, res.Output)
			want := make([]string, 0, len(tc.cities))
			for _, c := range tc.cities {
				want = append(want, c.(string))
			}
			assert.Equal(t, want, calls.list())

			tree, err := h.tracker.Tree(ctx, res.ExecutionID)
			require.NoError(t, err)
			assert.Equal(t, execution.StatusSuccess, tree.Status)
			require.Len(t, tree.SubExecutions, 1)
			loop := tree.SubExecutions[0]
			assert.Equal(t, execution.StatusSuccess, loop.Status)
			require.Len(t, loop.SubExecutions, 2*len(tc.cities), "each item keeps one record per node")
			for _, c := range loop.SubExecutions {
				assert.Equal(t, execution.StatusSuccess, c.Status, c.AgentKey)
			}
		})
	}
}

func TestIterator_ResumeEditsOnlyItsItem(t *testing.T) {
	calls := &cityLog{}
	h := newHarness(t, Deps{Tools: cityCatalog(t, calls)})
	exec := h.executor(loopWeatherGraph(false))

	res, err := exec.Execute(context.Background(), h.newRun("weather"), map[string]any{"cities": []any{"Paris", "Rome"}})
	require.NoError(t, err)
	require.Equal(t, execution.StatusInterrupted, res.Status)

	res, err = h.resume(exec, &graph.ResumeDecision{Confirm: true}, "weather")
	require.NoError(t, err)
	require.Equal(t, execution.StatusInterrupted, res.Status)
	call := res.Interrupt.Operation.ToolCalls[0].Call
	assert.Equal(t, "Rome", call.Args["city"])

	edited := &execution.Operation{ToolCalls: []execution.ToolCallEntry{{Call: execution.ToolCall{
		ID: call.ID, Name: "weather", Args: map[string]any{"city": "Milan"},
	}}}}
	res, err = h.resume(exec, &graph.ResumeDecision{Confirm: true, Operation: edited}, "weather")
	require.NoError(t, err)
	require.Equal(t, execution.StatusSuccess, res.Status)
	assert.Equal(t, []any{"Paris", "Milan"}, res.Output)
	assert.Equal(t, []string{"Paris", "Milan"}, calls.list())
}

func TestIterator_ResumeRejectsOneItem(t *testing.T) {
	calls := &cityLog{}
	h := newHarness(t, Deps{Tools: cityCatalog(t, calls)})
	exec := h.executor(loopWeatherGraph(true))

	res, err := exec.Execute(context.Background(), h.newRun("weather"), map[string]any{"cities": []any{"Paris", "Rome"}})
	require.NoError(t, err)
	require.Equal(t, execution.StatusInterrupted, res.Status)

	res, err = h.resume(exec, &graph.ResumeDecision{Reject: true}, "weather")
	require.NoError(t, err)
	require.Equal(t, execution.StatusInterrupted, res.Status)
	assert.Equal(t, "Rome", res.Interrupt.Operation.ToolCalls[0].Call.Args["city"])
	assert.Empty(t, calls.list())

	res, err = h.resume(exec, &graph.ResumeDecision{Confirm: true}, "weather")
	require.NoError(t, err)
	require.Equal(t, execution.StatusSuccess, res.Status)
	assert.Equal(t, []any{nil, "Rome"}, res.Output)
	assert.Equal(t, []string{"Rome"}, calls.list())
}

func TestIterator_InterruptStateNamesTheItem(t *testing.T) {
	h := newHarness(t, Deps{Tools: cityCatalog(t, &cityLog{})})
	exec := h.executor(loopWeatherGraph(true))
	res, err := exec.Execute(context.Background(), h.newRun("weather"), map[string]any{"cities": []any{"Paris", "Rome"}})
	require.NoError(t, err)
	require.Equal(t, execution.StatusInterrupted, res.Status)

	ckpt, err := h.saver.Get(context.Background(), res.Interrupt.Address)
	require.NoError(t, err)
	is := ckpt.InterruptState
	require.NotNil(t, is)
	assert.Equal(t, "loop[0]/ask", is.Path)
	require.Contains(t, is.Groups, "loop")
	group := is.Groups["loop"]
	assert.Empty(t, group.Done)
	require.Len(t, group.Suspended, 2)
	for _, name := range []string{"0", "1"} {
		scope := group.Suspended[name]
		require.NotNil(t, scope, name)
		assert.Equal(t, []string{"ask"}, scope.NextNodes)
		assert.Contains(t, scope.Pending, "ask")
	}
}
