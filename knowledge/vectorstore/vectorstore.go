//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package vectorstore provides interfaces for vector storage and similarity search.
package vectorstore

import (
	"context"
	"errors"

	"github.com/xpert-ai/xpert-sub002/knowledge/document"
)

// ErrNotFound is returned when a document id is unknown.
var ErrNotFound = errors.New("vectorstore: document not found")

// VectorStore defines the interface for vector storage and similarity search operations.
type VectorStore interface {
	// Add stores a document with its embedding vector, replacing any
	// document with the same id.
	Add(ctx context.Context, doc *document.Document, embedding []float64) error
	// Get retrieves a document by ID along with its embedding.
	Get(ctx context.Context, id string) (*document.Document, []float64, error)
	// Delete removes a document and its embedding.
	Delete(ctx context.Context, id string) error
	// Search returns the documents most similar to the query vector.
	Search(ctx context.Context, query *SearchQuery) (*SearchResult, error)
	// Count counts documents in the vector store.
	Count(ctx context.Context) (int, error)
}

// SearchQuery is a similarity query.
type SearchQuery struct {
	Vector   []float64
	Limit    int
	MinScore float64
	// Filter keeps documents whose metadata has every listed key/value.
	Filter map[string]any
}

// ScoredDocument pairs a document with its similarity score.
type ScoredDocument struct {
	Document *document.Document
	Score    float64
}

// SearchResult is ordered by descending score.
type SearchResult struct {
	Results []*ScoredDocument
}
