//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package knowledge provides retrieval and ingestion over an embedder and a
// vector store.
package knowledge

import (
	"context"

	"github.com/xpert-ai/xpert-sub002/knowledge/document"
)

// Knowledge is the retrieval capability used by knowledge nodes.
type Knowledge interface {
	// Search returns the documents most relevant to the query.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
}

// SearchRequest is a retrieval query.
type SearchRequest struct {
	Query      string
	MaxResults int
	MinScore   float64
	// Filter restricts matches by document metadata.
	Filter map[string]any
}

// Match is one retrieved document.
type Match struct {
	Document *document.Document `json:"document"`
	Score    float64            `json:"score"`
}

// SearchResult is ordered by descending score.
type SearchResult struct {
	Matches []Match `json:"matches"`
	// Tokens spent embedding the query.
	Tokens int64 `json:"tokens"`
}

// Text joins the content of the matches, best first.
func (r *SearchResult) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for i, m := range r.Matches {
		if i > 0 {
			out += "\n\n"
		}
		out += m.Document.Content
	}
	return out
}

// Resolver finds the knowledge base configured on a node by id.
type Resolver interface {
	Knowledge(id string) (Knowledge, bool)
}

// MapResolver is a fixed set of knowledge bases.
type MapResolver map[string]Knowledge

// Knowledge implements Resolver.
func (m MapResolver) Knowledge(id string) (Knowledge, bool) {
	k, ok := m[id]
	return k, ok
}
