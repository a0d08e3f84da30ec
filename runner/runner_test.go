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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/graph/nodes"
	"github.com/xpert-ai/xpert-sub002/tool"
	"github.com/xpert-ai/xpert-sub002/tool/function"
)

const greetGraph = `{"nodes": [
  {"key": "start", "type": "trigger", "entity": {"parameters": [{"name": "name", "type": "string"}]}},
  {"key": "say", "type": "answer", "entity": {"template": "hello {{start.name}}"}}
], "connections": [{"from": "start", "to": "say"}], "startNodeKeys": ["start"]}`

const deleteGraph = `{"nodes": [
  {"key": "rm", "type": "tool", "entity": {"tool": "delete_file", "parameters": {"path": "{{sys.path}}"}}},
  {"key": "say", "type": "answer", "entity": {"template": "{{rm.result}}"}}
], "connections": [{"from": "rm", "to": "say"}], "startNodeKeys": ["rm"]}`

type pathIn struct {
	Path string `json:"path"`
}

func newTestRunner(t *testing.T, deleted *[]string) *Runner {
	catalog := tool.NewCatalog()
	require.NoError(t, catalog.Register("fs", function.NewFunctionTool(
		func(_ context.Context, in pathIn) (string, error) {
			*deleted = append(*deleted, in.Path)
			return "deleted " + in.Path, nil
		}, function.WithName("delete_file"))))
	graphs := NewGraphs()
	for id, src := range map[string]string{"greet": greetGraph, "delete": deleteGraph} {
		g, err := graph.Decode([]byte(src))
		require.NoError(t, err)
		require.NoError(t, graphs.Put(id, g))
	}
	reg, err := nodes.NewRegistry(nodes.Deps{Tools: catalog, Graphs: graphs})
	require.NoError(t, err)
	return New(graphs, reg, WithBufferSize(4))
}

func TestRunGraph_StreamsEvents(t *testing.T) {
	r := newTestRunner(t, new([]string))
	h, err := r.RunGraph(context.Background(), RunRequest{XpertID: "greet", Input: map[string]any{"name": "ann"}})
	require.NoError(t, err)
	require.NotEmpty(t, h.ExecutionID)
	require.NotEmpty(t, h.ThreadID)

	var kinds []event.Kind
	var text string
	for e := range h.Events() {
		if e.Kind != "" {
			kinds = append(kinds, e.Kind)
		}
		if s, ok := e.Data.(string); ok && e.Type == event.TypeMessage {
			text += s
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, event.KindConversationStart, kinds[0])
	assert.Equal(t, event.KindConversationEnd, kinds[len(kinds)-1])
	assert.Equal(t, "hello ann", text)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, res.Status)
	assert.Equal(t, "hello ann", res.Output)

	tree, err := r.Execution(context.Background(), h.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "greet", tree.XpertID)
	assert.Len(t, tree.SubExecutions, 2)
}

func TestRunGraph_Errors(t *testing.T) {
	r := newTestRunner(t, new([]string))
	_, err := r.RunGraph(context.Background(), RunRequest{XpertID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownXpert)
	assert.ErrorIs(t, r.Cancel("missing"), ErrNotActive)
}

func TestResume_RoundTrip(t *testing.T) {
	ctx := context.Background()
	var deleted []string
	r := newTestRunner(t, &deleted)
	h, err := r.RunGraph(ctx, RunRequest{XpertID: "delete", Input: map[string]any{"path": "/tmp/a"}, InterruptBefore: []string{"delete_file"}})
	require.NoError(t, err)
	res, err := h.Wait()
	require.NoError(t, err)
	require.Equal(t, execution.StatusInterrupted, res.Status)
	assert.Empty(t, deleted)

	rec, err := r.Execution(ctx, h.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusInterrupted, rec.Status)
	require.NotNil(t, rec.Operation)

	_, err = r.Resume(ctx, ResumeRequest{XpertID: "greet", ExecutionID: h.ExecutionID, Confirm: true})
	assert.ErrorIs(t, err, ErrXpertMismatch)

	req := ResumeRequest{XpertID: "delete", ExecutionID: h.ExecutionID, Confirm: true}
	rh, err := r.Resume(ctx, req)
	require.NoError(t, err)
	assert.False(t, rh.Duplicate)
	out, err := rh.Wait()
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, out.Status)
	assert.Equal(t, "deleted /tmp/a", out.Output)
	assert.Equal(t, []string{"/tmp/a"}, deleted)

	again, err := r.Resume(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	dup, err := again.Wait()
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, dup.Status)
	assert.Equal(t, []string{"/tmp/a"}, deleted)

	_, err = r.Resume(ctx, ResumeRequest{XpertID: "delete", ExecutionID: h.ExecutionID, Reject: true})
	assert.ErrorIs(t, err, execution.ErrAlreadyResumed)
}

func TestResume_NoPendingOperation(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(t, new([]string))
	h, err := r.RunGraph(ctx, RunRequest{XpertID: "greet"})
	require.NoError(t, err)
	_, err = h.Wait()
	require.NoError(t, err)
	_, err = r.Resume(ctx, ResumeRequest{ExecutionID: h.ExecutionID, Confirm: true})
	assert.ErrorIs(t, err, execution.ErrNoPendingOperation)
}

func TestResumeRequest_Key(t *testing.T) {
	a := ResumeRequest{ExecutionID: "1", Confirm: true}
	b := ResumeRequest{ExecutionID: "2", Confirm: true, InterruptBefore: []string{"x"}}
	c := ResumeRequest{ExecutionID: "1", Reject: true}
	ka, err := a.Key()
	require.NoError(t, err)
	kb, _ := b.Key()
	kc, _ := c.Key()
	assert.Equal(t, ka, kb)
	assert.NotEqual(t, ka, kc)
}

func TestTrigger(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(t, new([]string))
	id, err := r.Trigger(ctx, "greet", "", map[string]any{"name": "bo"})
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(ctx))
	rec, err := r.Execution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, rec.Status)
}

func TestGraphs_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.json"), []byte(greetGraph), 0o600))
	yml := `id: hello
nodes:
  - key: say
    type: answer
    entity:
      template: hi
startNodeKeys: [say]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(yml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0o600))

	g := NewGraphs()
	n, err := g.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"greet", "hello"}, g.IDs())
	_, err = g.LoadGraph(context.Background(), "other")
	assert.ErrorIs(t, err, ErrUnknownXpert)
}
