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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/codeexecutor"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
)

const ifElseGraph = `{
  "nodes": [
    {"key": "start", "type": "trigger", "entity": {"parameters": [{"name": "x", "type": "number"}]}},
    {"key": "check", "type": "ifElse", "entity": {"cases": [
      {"caseId": "big", "conditions": [{"variableSelector": "start.x", "comparisonOperator": "gt", "value": 5}]}
    ]}},
    {"key": "big", "type": "answer", "entity": {"template": "big"}},
    {"key": "small", "type": "answer", "entity": {"template": "small"}}
  ],
  "connections": [
    {"from": "start", "to": "check", "type": "edge"},
    {"from": "check/big", "to": "big", "type": "edge"},
    {"from": "check/else", "to": "small", "type": "edge"}
  ],
  "startNodeKeys": ["start"]
}`

func TestIfElse_EndToEnd(t *testing.T) {
	for _, tc := range []struct {
		x    any
		want string
	}{
		{x: 7, want: "big"},
		{x: 2, want: "small"},
		{x: "9.5", want: "big"},
	} {
		t.Run(fmt.Sprint(tc.x), func(t *testing.T) {
			h := newHarness(t, Deps{})
			res, err := h.run(ifElseGraph, map[string]any{"x": tc.x})
			require.NoError(t, err)
			assert.Equal(t, execution.StatusSuccess, res.Status)
			assert.Equal(t, tc.want, res.Output)
			assert.Equal(t, tc.want, h.events.text())
		})
	}
}

func TestIfElse_Operators(t *testing.T) {
	cases := []struct {
		op       Operator
		actual   any
		expected any
		want     bool
	}{
		{OpEquals, "a", "a", true},
		{OpEquals, float64(3), "3", true},
		{OpNotEquals, "a", "b", true},
		{OpGreaterEq, 3, 3, true},
		{OpLess, "2", 10, true},
		{OpLessEq, "x", 10, false},
		{OpContains, "hello world", "lo w", true},
		{OpContains, []any{"a", "b"}, "b", true},
		{OpNotContains, []any{"a"}, "b", true},
		{OpStartsWith, "prefix-x", "prefix", true},
		{OpEndsWith, "x.md", ".md", true},
		{OpEmpty, "  ", nil, true},
		{OpEmpty, []any{}, nil, true},
		{OpNotEmpty, map[string]any{"a": 1}, nil, true},
		{OpEquals, true, "true", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, compare(c.op, c.actual, c.expected), "%s %v %v", c.op, c.actual, c.expected)
	}

	or := []Condition{{Operator: OpEquals}, {Operator: OpEquals}}
	calls := 0
	assert.True(t, matchAll(or, "or", func(Condition) bool { calls++; return calls == 2 }))
	assert.False(t, matchAll(or, "and", func(Condition) bool { return false }))
	assert.False(t, matchAll(nil, "and", func(Condition) bool { return true }))
}

func TestIfElse_CompileErrors(t *testing.T) {
	h := newHarness(t, Deps{})
	_, err := h.compile(`{"nodes": [
	  {"key": "c", "type": "ifElse", "entity": {"cases": [{"caseId": "a", "conditions": [{"variableSelector": "sys.x", "comparisonOperator": "like"}]}]}}
	], "startNodeKeys": ["c"]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operator")

	_, err = h.compile(`{"nodes": [
	  {"key": "c", "type": "ifElse", "entity": {"cases": [{"caseId": "a", "conditions": [{"variableSelector": "nowhere.x", "comparisonOperator": "empty"}]}]}}
	], "startNodeKeys": ["c"]}`)
	require.ErrorIs(t, err, graph.ErrUnresolvedVariable)
}

func TestTrigger_UndeclaredVariable(t *testing.T) {
	h := newHarness(t, Deps{})
	_, err := h.compile(`{"nodes": [
	  {"key": "start", "type": "trigger", "entity": {"parameters": [{"name": "x", "type": "number"}]}},
	  {"key": "out", "type": "answer", "entity": {"template": "{{start.y}}"}}
	], "connections": [{"from": "start", "to": "out"}], "startNodeKeys": ["start"]}`)
	require.ErrorIs(t, err, graph.ErrUnresolvedVariable)
	var ce *graph.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "out", ce.NodeKey)
}

func TestTemplate_GoTemplate(t *testing.T) {
	h := newHarness(t, Deps{})
	res, err := h.run(`{"nodes": [
	  {"key": "start", "type": "trigger", "entity": {"parameters": [{"name": "items", "type": "array"}]}},
	  {"key": "fmt", "type": "template", "entity": {
	    "template": "{{range .items}}[{{.}}]{{end}} {{upper .name}} {{join \",\" .items}}",
	    "variables": [{"name": "items", "variableSelector": "start.items"}, {"name": "name", "value": "{{sys.name}}"}]
	  }}
	], "connections": [{"from": "start", "to": "fmt"}], "startNodeKeys": ["start"]}`,
		map[string]any{"items": []any{"a", "b"}, "name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "[a][b] BOB a,b", res.Output)
}

func TestTemplate_BadSyntax(t *testing.T) {
	h := newHarness(t, Deps{})
	_, err := h.compile(`{"nodes": [{"key": "fmt", "type": "template", "entity": {"template": "{{range .x}"}}], "startNodeKeys": ["fmt"]}`)
	require.Error(t, err)
	var ce *graph.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, graph.KindInvalid, ce.Kind)
}

func TestAssigner(t *testing.T) {
	h := newHarness(t, Deps{})
	res, err := h.run(`{"nodes": [
	  {"key": "vars", "type": "assigner", "entity": {"assigners": [
	    {"name": "greeting", "value": "hi {{sys.name}}"},
	    {"name": "copy", "variableSelector": "sys.tags"},
	    {"name": "list", "operation": "append", "value": 1},
	    {"name": "list", "operation": "extend", "variableSelector": "sys.tags"}
	  ]}}
	], "startNodeKeys": ["vars"]}`, map[string]any{"name": "bob", "tags": []any{"x", "y"}})
	require.NoError(t, err)
	vars := res.State["vars"]
	assert.Equal(t, "hi bob", vars["greeting"])
	assert.Equal(t, []any{"x", "y"}, vars["copy"])
	assert.Equal(t, []any{float64(1), "x", "y"}, vars["list"])
}

func TestAggregator_JoinsBranches(t *testing.T) {
	h := newHarness(t, Deps{})
	src := `{"nodes": [
	  {"key": "check", "type": "ifElse", "entity": {"cases": [
	    {"caseId": "a", "conditions": [{"variableSelector": "sys.pick", "comparisonOperator": "equals", "value": "a"}]}
	  ]}},
	  {"key": "left", "type": "answer", "entity": {"template": "A"}},
	  {"key": "right", "type": "answer", "entity": {"template": "B"}},
	  {"key": "join", "type": "variableAggregator", "entity": {"variables": ["left.answer", "right.answer"]}}
	], "connections": [
	  {"from": "check/a", "to": "left"}, {"from": "check/else", "to": "right"},
	  {"from": "left", "to": "join"}, {"from": "right", "to": "join"}
	], "startNodeKeys": ["check"]}`
	res, err := h.run(src, map[string]any{"pick": "a"})
	require.NoError(t, err)
	assert.Equal(t, "A", res.Output)

	res, err = h.run(src, map[string]any{"pick": "z"})
	require.NoError(t, err)
	assert.Equal(t, "B", res.Output)
}

func TestListOperator(t *testing.T) {
	h := newHarness(t, Deps{})
	res, err := h.run(`{"nodes": [
	  {"key": "ops", "type": "listOperator", "entity": {
	    "inputVariable": "sys.rows",
	    "filterBy": {"enabled": true, "conditions": [{"key": "n", "comparisonOperator": "lt", "value": 3}]},
	    "dedupe": true, "dedupeKey": "name",
	    "sortBy": {"enabled": true, "key": "n", "order": "desc"},
	    "limit": {"enabled": true, "size": 5}
	  }}
	], "startNodeKeys": ["ops"]}`, map[string]any{"rows": []any{
		map[string]any{"n": 3, "name": "c"},
		map[string]any{"n": 1, "name": "a"},
		map[string]any{"n": 2, "name": "b"},
		map[string]any{"n": 1, "name": "a"},
	}})
	require.NoError(t, err)
	out := res.State["ops"]
	assert.Equal(t, []any{
		map[string]any{"n": 2, "name": "b"},
		map[string]any{"n": 1, "name": "a"},
	}, out["result"])
	assert.Equal(t, map[string]any{"n": 1, "name": "a"}, out["last"])
}

// codeStub fails items equal to "bad" and otherwise echoes v with a suffix.
type codeStub struct{}

func (codeStub) ExecuteCode(_ context.Context, in codeexecutor.CodeExecutionInput) (codeexecutor.CodeExecutionResult, error) {
	v := fmt.Sprint(in.Inputs["v"])
	if v == "bad" {
		return codeexecutor.CodeExecutionResult{Stderr: "boom", ExitCode: 1}, nil
	}
	return codeexecutor.CodeExecutionResult{Stdout: fmt.Sprintf("working\n{\"v\": %q}", v+"-ok")}, nil
}

func iteratorGraph(mode string) string {
	return fmt.Sprintf(`{"nodes": [
	  {"key": "loop", "type": "iterator", "entity": {
	    "inputVariable": "sys.items", "outputVariable": "double.v",
	    "parallel": true, "concurrency": 2, "errorMode": %q
	  }},
	  {"key": "double", "type": "code", "parentId": "loop", "entity": {
	    "language": "python", "code": "print(v)",
	    "inputs": [{"name": "v", "variableSelector": "loop.item"}],
	    "outputs": [{"name": "v", "type": "string"}]
	  }}
	], "startNodeKeys": ["loop"]}`, mode)
}

func TestIterator_ErrorModes(t *testing.T) {
	items := map[string]any{"items": []any{"a", "bad", "c"}}

	h := newHarness(t, Deps{CodeExecutor: codeStub{}})
	res, err := h.run(iteratorGraph("ignore"), items)
	require.NoError(t, err)
	assert.Equal(t, []any{"a-ok", nil, "c-ok"}, res.Output)
	failures, ok := res.State["loop"]["errors"].([]any)
	require.True(t, ok)
	require.Len(t, failures, 1)
	failure := failures[0].(map[string]any)
	assert.Equal(t, 1, failure["index"])
	assert.Contains(t, failure["error"], "boom")

	res, err = h.run(iteratorGraph("remove"), items)
	require.NoError(t, err)
	assert.Equal(t, []any{"a-ok", "c-ok"}, res.Output)

	res, err = h.run(iteratorGraph("terminate"), items)
	require.Error(t, err)
	assert.Equal(t, execution.StatusError, res.Status)
	var ne *graph.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "loop", ne.NodeKey)
}

func TestIterator_RecordsPerItem(t *testing.T) {
	h := newHarness(t, Deps{CodeExecutor: codeStub{}})
	res, err := h.run(iteratorGraph("terminate"), map[string]any{"items": []any{"x", "y"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x-ok", "y-ok"}, res.Output)

	tree, err := h.tracker.Tree(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, tree.SubExecutions, 1)
	assert.Len(t, tree.SubExecutions[0].SubExecutions, 2)
}

func TestIterator_NotAList(t *testing.T) {
	h := newHarness(t, Deps{CodeExecutor: codeStub{}})
	_, err := h.run(iteratorGraph("terminate"), map[string]any{"items": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a list")
}

func TestRegister_Duplicate(t *testing.T) {
	reg, err := NewRegistry(Deps{})
	require.NoError(t, err)
	require.ErrorIs(t, Register(reg, Deps{}), graph.ErrDuplicateStrategy)
	_, err = reg.Lookup(graph.NodeTypeNote)
	require.ErrorIs(t, err, graph.ErrUnknownNodeType)
}

func TestMissingDependency(t *testing.T) {
	h := newHarness(t, Deps{})
	_, err := h.compile(iteratorGraph("terminate"))
	require.ErrorIs(t, err, errMissingDep)
}
