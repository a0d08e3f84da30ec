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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/internal/fanout"
	"github.com/xpert-ai/xpert-sub002/knowledge"
	"github.com/xpert-ai/xpert-sub002/knowledge/document"
	"github.com/xpert-ai/xpert-sub002/tool"
)

const defaultTopK = 5

type knowledgeEntity struct {
	KnowledgeBases []string       `json:"knowledgebases"`
	Query          string         `json:"query,omitempty"`
	TopK           int            `json:"topK,omitempty"`
	MinScore       float64        `json:"minScore,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
	// Description is offered to the model when attached to an agent.
	Description string `json:"description,omitempty"`
}

// searcher queries several knowledge bases and merges the matches.
type searcher struct {
	bases []knowledge.Knowledge
	ent   *knowledgeEntity
}

func newSearcher(resolver knowledge.Resolver, n *graph.Node) (*searcher, error) {
	if resolver == nil {
		return nil, fmt.Errorf("knowledge %s: resolver: %w", n.Key, errMissingDep)
	}
	ent, err := decode[knowledgeEntity](n)
	if err != nil {
		return nil, err
	}
	if len(ent.KnowledgeBases) == 0 {
		return nil, fmt.Errorf("knowledge %s: no knowledge base", n.Key)
	}
	if ent.TopK <= 0 {
		ent.TopK = defaultTopK
	}
	s := &searcher{ent: ent}
	for _, id := range ent.KnowledgeBases {
		k, ok := resolver.Knowledge(id)
		if !ok {
			return nil, fmt.Errorf("knowledge %s: unknown knowledge base %s", n.Key, id)
		}
		s.bases = append(s.bases, k)
	}
	return s, nil
}

func (s *searcher) search(ctx context.Context, query string) (*knowledge.SearchResult, error) {
	merged := &knowledge.SearchResult{}
	for _, k := range s.bases {
		r, err := k.Search(ctx, &knowledge.SearchRequest{
			Query:      query,
			MaxResults: s.ent.TopK,
			MinScore:   s.ent.MinScore,
			Filter:     s.ent.Filter,
		})
		if err != nil {
			return nil, err
		}
		merged.Matches = append(merged.Matches, r.Matches...)
		merged.Tokens += r.Tokens
	}
	sort.SliceStable(merged.Matches, func(i, j int) bool { return merged.Matches[i].Score > merged.Matches[j].Score })
	if len(merged.Matches) > s.ent.TopK {
		merged.Matches = merged.Matches[:s.ent.TopK]
	}
	return merged, nil
}

// knowledgeStrategy retrieves documents for a rendered query. Attached to
// an agent it becomes a retriever tool instead.
type knowledgeStrategy struct {
	resolver knowledge.Resolver
}

func (s *knowledgeStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	srch, err := newSearcher(s.resolver, n)
	if err != nil {
		return nil, err
	}
	return &graph.Unit{Execute: func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		query := nc.Render(srch.ent.Query)
		nc.Emit(ctx, event.KindRetrieverStart, nc.Node.Name(), map[string]any{"query": query})
		res, err := srch.search(ctx, query)
		if err != nil {
			nc.Emit(ctx, event.KindRetrieverError, nc.Node.Name(), err.Error())
			return nil, fmt.Errorf("knowledge %s: %w", nc.Node.Key, err)
		}
		nc.Emit(ctx, event.KindRetrieverEnd, nc.Node.Name(), res)
		docs := make([]any, 0, len(res.Matches))
		for _, m := range res.Matches {
			docs = append(docs, map[string]any{
				"id":       m.Document.ID,
				"content":  m.Document.Content,
				"metadata": m.Document.Metadata,
				"score":    m.Score,
			})
		}
		patch := map[string]any{"documents": docs, "text": res.Text()}
		return &graph.Result{Patch: patch, Output: patch, EmbedTokens: res.Tokens}, nil
	}}, nil
}

func (s *knowledgeStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{
		{Name: "documents", Type: graph.ParamArray},
		{Name: "text", Type: graph.ParamString},
	}, nil
}

var toolNameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// retrieverTool exposes a knowledge node to an agent.
type retrieverTool struct {
	decl     *tool.Declaration
	searcher *searcher
}

func (retrieverTool) retriever() {}

func newRetrieverTool(resolver knowledge.Resolver, n *graph.Node) (*retrieverTool, error) {
	srch, err := newSearcher(resolver, n)
	if err != nil {
		return nil, err
	}
	desc := srch.ent.Description
	if desc == "" {
		desc = "Search the knowledge base " + n.Name() + " for passages relevant to the query."
	}
	return &retrieverTool{
		searcher: srch,
		decl: &tool.Declaration{
			Name:        "knowledge_" + toolNameUnsafe.ReplaceAllString(n.Key, "_"),
			Description: desc,
			InputSchema: &tool.Schema{
				Type:     "object",
				Required: []string{"query"},
				Properties: map[string]*tool.Schema{
					"query": {Type: "string", Description: "search query"},
				},
			},
		},
	}, nil
}

func (t *retrieverTool) Declaration() *tool.Declaration { return t.decl }

func (t *retrieverTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(jsonArgs, &in); err != nil {
		return nil, err
	}
	res, err := t.searcher.search(ctx, in.Query)
	if err != nil {
		return nil, err
	}
	return res.Text(), nil
}

// IngestDocument is the shape accepted by knowledgeBase nodes. Plain
// strings are accepted as content.
type IngestDocument struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type knowledgeBaseEntity struct {
	KnowledgeBase string `json:"knowledgebase"`
	// Documents selects the list to ingest.
	Documents string `json:"documents"`
}

// knowledgeBaseStrategy ingests documents into a knowledge base. Documents
// fail one by one without failing the node.
type knowledgeBaseStrategy struct {
	resolver knowledge.Resolver
}

func (s *knowledgeBaseStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("knowledgeBase %s: resolver: %w", n.Key, errMissingDep)
	}
	ent, err := decode[knowledgeBaseEntity](n)
	if err != nil {
		return nil, err
	}
	k, ok := s.resolver.Knowledge(ent.KnowledgeBase)
	if !ok {
		return nil, fmt.Errorf("knowledgeBase %s: unknown knowledge base %s", n.Key, ent.KnowledgeBase)
	}
	ing, ok := k.(Ingester)
	if !ok {
		return nil, fmt.Errorf("knowledgeBase %s: knowledge base %s does not accept documents", n.Key, ent.KnowledgeBase)
	}
	sel, err := parseSelector("documents", ent.Documents)
	if err != nil {
		return nil, fmt.Errorf("knowledgeBase %s: %w", n.Key, err)
	}
	return &graph.Unit{Reads: []graph.Selector{sel}, Execute: func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		raw, _ := nc.State.Select(sel)
		docs, err := toDocuments(nc.Node.Key, raw)
		if err != nil {
			return nil, err
		}
		results, err := ing.Ingest(ctx, docs, nc.Run.Cancelled)
		if errors.Is(err, fanout.ErrCancelled) {
			return nil, fmt.Errorf("knowledgeBase %s: %w", nc.Node.Key, graph.ErrRunCancelled)
		}
		if err != nil {
			return nil, fmt.Errorf("knowledgeBase %s: %w", nc.Node.Key, err)
		}
		var chunks, failed int
		var tokens int64
		out := make([]any, 0, len(results))
		for _, r := range results {
			chunks += r.Chunks
			tokens += r.Tokens
			if r.Error != "" {
				failed++
			}
			out = append(out, map[string]any{"documentId": r.DocumentID, "chunks": r.Chunks, "tokens": r.Tokens, "error": r.Error})
		}
		patch := map[string]any{"results": out, "chunks": chunks, "failed": failed}
		return &graph.Result{Patch: patch, Output: patch, EmbedTokens: tokens}, nil
	}}, nil
}

func toDocuments(key string, raw any) ([]*document.Document, error) {
	list, ok := toList(raw)
	if !ok {
		return nil, fmt.Errorf("knowledgeBase %s: documents are %T, not a list", key, raw)
	}
	docs := make([]*document.Document, 0, len(list))
	for i, item := range list {
		var d IngestDocument
		switch t := item.(type) {
		case string:
			d.Content = t
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("knowledgeBase %s: document %d: %w", key, i, err)
			}
			if err := json.Unmarshal(b, &d); err != nil {
				return nil, fmt.Errorf("knowledgeBase %s: document %d: %w", key, i, err)
			}
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("%s-%d", key, i)
		}
		docs = append(docs, &document.Document{ID: d.ID, Name: d.Name, Content: d.Content, Metadata: d.Metadata})
	}
	return docs, nil
}

func (s *knowledgeBaseStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{
		{Name: "results", Type: graph.ParamArray},
		{Name: "chunks", Type: graph.ParamNumber},
		{Name: "failed", Type: graph.ParamNumber},
	}, nil
}
