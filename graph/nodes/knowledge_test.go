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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/knowledge"
	"github.com/xpert-ai/xpert-sub002/knowledge/document"
	"github.com/xpert-ai/xpert-sub002/knowledge/vectorstore/inmemory"
	"github.com/xpert-ai/xpert-sub002/model"
)

// letterEmbedder counts letters; one token per word.
type letterEmbedder struct{ failOn string }

func (e letterEmbedder) GetEmbedding(ctx context.Context, text string) ([]float64, error) {
	v, _, err := e.GetEmbeddingWithUsage(ctx, text)
	return v, err
}

func (e letterEmbedder) GetEmbeddingWithUsage(_ context.Context, text string) ([]float64, map[string]any, error) {
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, nil, errors.New("embedding refused")
	}
	v := make([]float64, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, map[string]any{"total_tokens": len(strings.Fields(text))}, nil
}

func (letterEmbedder) GetDimensions() int { return 26 }

func newKB(t *testing.T, docs ...string) *knowledge.BuiltinKnowledge {
	kb, err := knowledge.New(knowledge.WithEmbedder(letterEmbedder{failOn: "poison"}), knowledge.WithVectorStore(inmemory.New()))
	require.NoError(t, err)
	if len(docs) > 0 {
		in := make([]*document.Document, len(docs))
		for i, d := range docs {
			in[i] = &document.Document{ID: fmt.Sprintf("d%d", i), Content: d}
		}
		_, err := kb.Ingest(context.Background(), in, nil)
		require.NoError(t, err)
	}
	return kb
}

func findRecord(r *execution.Record, key string) *execution.Record {
	if r.AgentKey == key {
		return r
	}
	for _, c := range r.SubExecutions {
		if f := findRecord(c, key); f != nil {
			return f
		}
	}
	return nil
}

const ingestGraph = `{"nodes": [
  {"key": "ingest", "type": "knowledgeBase", "entity": {"knowledgebase": "kb", "documents": "sys.docs"}},
  {"key": "search", "type": "knowledge", "entity": {"knowledgebases": ["kb"], "query": "{{sys.q}}", "topK": 1}},
  {"key": "say", "type": "answer", "entity": {"template": "{{ingest.chunks}}/{{ingest.failed}}: {{search.text}}"}}
], "connections": [{"from": "ingest", "to": "search"}, {"from": "search", "to": "say"}], "startNodeKeys": ["ingest"]}`

func TestKnowledge_IngestThenSearch(t *testing.T) {
	kb := newKB(t)
	h := newHarness(t, Deps{Knowledge: knowledge.MapResolver{"kb": kb}})
	docs := []any{
		"zebra zoo zone",
		map[string]any{"id": "bad", "content": "poison pill"},
		map[string]any{"id": "apple", "content": "apple pie", "metadata": map[string]any{"lang": "en"}},
	}
	res, err := h.run(ingestGraph, map[string]any{"docs": docs, "q": "zebra"})
	require.NoError(t, err)
	assert.Equal(t, "2/1: zebra zoo zone", res.Output)

	tree, err := h.tracker.Tree(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	ingest := findRecord(tree, "ingest")
	require.NotNil(t, ingest)
	assert.Equal(t, int64(5), ingest.EmbedTokens)
	search := findRecord(tree, "search")
	require.NotNil(t, search)
	assert.Equal(t, int64(1), search.EmbedTokens)

	assert.Equal(t, []string{"search"}, h.events.named(event.KindRetrieverStart))
	assert.Equal(t, []string{"search"}, h.events.named(event.KindRetrieverEnd))
}

func TestKnowledge_Errors(t *testing.T) {
	h := newHarness(t, Deps{Knowledge: knowledge.MapResolver{"kb": newKB(t)}})
	_, err := h.compile(`{"nodes": [{"key": "s", "type": "knowledge", "entity": {"knowledgebases": ["nope"]}}], "startNodeKeys": ["s"]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown knowledge base")

	_, err = h.run(ingestGraph, map[string]any{"docs": "not a list", "q": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a list")
}

func TestAgent_KnowledgeCapability(t *testing.T) {
	kb := newKB(t, "zebra zoo zone", "apple pie")
	m := &scriptedModel{turns: []model.Message{
		toolCall("r1", "knowledge_docs", `{"query": "zebra"}`),
		model.NewAssistantMessage("Zebras live in the zoo."),
	}}
	h := newHarness(t, Deps{Models: m.provider(), Knowledge: knowledge.MapResolver{"kb": kb}})
	src := `{"nodes": [
	  {"key": "bot", "type": "agent", "entity": {}},
	  {"key": "docs", "type": "knowledge", "entity": {"knowledgebases": ["kb"], "topK": 1}}
	], "connections": [{"from": "bot", "to": "docs"}], "startNodeKeys": ["bot"]}`
	res, err := h.run(src, map[string]any{"input": "where are zebras?"})
	require.NoError(t, err)
	assert.Equal(t, "Zebras live in the zoo.", res.Output)
	assert.Equal(t, []string{"knowledge_docs"}, h.events.named(event.KindRetrieverStart))
	assert.Empty(t, h.events.named(event.KindToolStart))
	second := m.requests[1]
	assert.Equal(t, "zebra zoo zone", second[len(second)-1].Content)
}

func TestSubflow_RunsNestedGraph(t *testing.T) {
	child := `{"nodes": [{"key": "hi", "type": "answer", "entity": {"template": "hi {{sys.name}}"}}], "startNodeKeys": ["hi"]}`
	var loads []string
	loader := GraphLoaderFunc(func(_ context.Context, id string) (*graph.Graph, error) {
		loads = append(loads, id)
		if id != "child" {
			return nil, fmt.Errorf("no xpert %s", id)
		}
		return graph.Decode([]byte(child))
	})
	h := newHarness(t, Deps{Graphs: loader})
	src := `{"nodes": [
	  {"key": "sub", "type": "subflow", "entity": {"xpertId": "child", "inputs": [{"name": "name", "variableSelector": "sys.user"}]}},
	  {"key": "done", "type": "answer", "entity": {"template": "{{sub.output}}!"}}
	], "connections": [{"from": "sub", "to": "done"}], "startNodeKeys": ["sub"]}`
	res, err := h.run(src, map[string]any{"user": "ann"})
	require.NoError(t, err)
	assert.Equal(t, "hi ann!", res.Output)
	assert.Equal(t, []string{"child"}, loads)

	tree, err := h.tracker.Tree(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	sub := findRecord(tree, "sub")
	require.NotNil(t, sub)
	require.Len(t, sub.SubExecutions, 1)
	assert.Equal(t, "hi", sub.SubExecutions[0].AgentKey)
}

func TestSubflow_ResumesNestedInterrupt(t *testing.T) {
	child := `{"nodes": [
	  {"key": "pre", "type": "template", "entity": {"template": "{{.n}}", "variables": [{"name": "n", "variableSelector": "sys.name"}]}},
	  {"key": "ask", "type": "tool", "entity": {"toolset": "web", "tool": "weather", "parameters": {"city": "{{sys.name}}"}}},
	  {"key": "say", "type": "answer", "entity": {"template": "{{ask.result.city}} is {{ask.result.sky}}"}}
	], "connections": [{"from": "pre", "to": "ask"}, {"from": "ask", "to": "say"}], "startNodeKeys": ["pre"]}`
	loader := GraphLoaderFunc(func(context.Context, string) (*graph.Graph, error) {
		return graph.Decode([]byte(child))
	})
	calls := &cityLog{}
	h := newHarness(t, Deps{Graphs: loader, Tools: cityCatalog(t, calls)})
	exec := h.executor(`{"nodes": [
	  {"key": "sub", "type": "subflow", "entity": {"xpertId": "child", "inputs": [{"name": "name", "variableSelector": "sys.user"}]}},
	  {"key": "done", "type": "answer", "entity": {"template": "{{sub.output}}!"}}
	], "connections": [{"from": "sub", "to": "done"}], "startNodeKeys": ["sub"]}`)

	res, err := exec.Execute(context.Background(), h.newRun("weather"), map[string]any{"user": "Paris"})
	require.NoError(t, err)
	require.Equal(t, execution.StatusInterrupted, res.Status)
	assert.Empty(t, calls.list())

	res, err = h.resume(exec, &graph.ResumeDecision{Confirm: true}, "weather")
	require.NoError(t, err)
	require.Equal(t, execution.StatusSuccess, res.Status)
	assert.Equal(t, "Paris is sunny!", res.Output)
	assert.Equal(t, []string{"Paris"}, calls.list())

	tree, err := h.tracker.Tree(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	sub := findRecord(tree, "sub")
	require.NotNil(t, sub)
	require.Len(t, sub.SubExecutions, 3)
	for _, c := range sub.SubExecutions {
		assert.Equal(t, execution.StatusSuccess, c.Status, c.AgentKey)
	}
}

func TestSubflow_DepthLimit(t *testing.T) {
	self := `{"nodes": [{"key": "again", "type": "subflow", "entity": {"xpertId": "self"}}], "startNodeKeys": ["again"]}`
	loader := GraphLoaderFunc(func(context.Context, string) (*graph.Graph, error) {
		return graph.Decode([]byte(self))
	})
	h := newHarness(t, Deps{Graphs: loader})
	_, err := h.run(self, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("nesting deeper than %d", MaxSubflowDepth))
}
