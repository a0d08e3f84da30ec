//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory vector store using cosine similarity.
package inmemory

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/xpert-ai/xpert-sub002/knowledge/document"
	"github.com/xpert-ai/xpert-sub002/knowledge/vectorstore"
)

const defaultMaxResults = 10

var _ vectorstore.VectorStore = (*VectorStore)(nil)

type entry struct {
	doc       *document.Document
	embedding []float64
}

// VectorStore keeps documents in a map guarded by a RWMutex.
type VectorStore struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxResults int
}

// Option configures the VectorStore.
type Option func(*VectorStore)

// WithMaxResults sets the result count used when a query has no limit.
func WithMaxResults(n int) Option {
	return func(v *VectorStore) {
		v.maxResults = n
	}
}

// New creates an empty store.
func New(opts ...Option) *VectorStore {
	v := &VectorStore{entries: make(map[string]entry), maxResults: defaultMaxResults}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Add implements vectorstore.VectorStore.
func (v *VectorStore) Add(_ context.Context, doc *document.Document, embedding []float64) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("inmemory: document id is required")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("inmemory: embedding is empty for %s", doc.ID)
	}
	emb := make([]float64, len(embedding))
	copy(emb, embedding)
	v.mu.Lock()
	v.entries[doc.ID] = entry{doc: doc.Clone(), embedding: emb}
	v.mu.Unlock()
	return nil
}

// Get implements vectorstore.VectorStore.
func (v *VectorStore) Get(_ context.Context, id string) (*document.Document, []float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[id]
	if !ok {
		return nil, nil, vectorstore.ErrNotFound
	}
	return e.doc.Clone(), append([]float64(nil), e.embedding...), nil
}

// Delete implements vectorstore.VectorStore.
func (v *VectorStore) Delete(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[id]; !ok {
		return vectorstore.ErrNotFound
	}
	delete(v.entries, id)
	return nil
}

// Count implements vectorstore.VectorStore.
func (v *VectorStore) Count(context.Context) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries), nil
}

// Search implements vectorstore.VectorStore.
func (v *VectorStore) Search(_ context.Context, q *vectorstore.SearchQuery) (*vectorstore.SearchResult, error) {
	if q == nil || len(q.Vector) == 0 {
		return nil, fmt.Errorf("inmemory: query vector is empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = v.maxResults
	}

	v.mu.RLock()
	scored := make([]*vectorstore.ScoredDocument, 0, len(v.entries))
	for _, e := range v.entries {
		if !matchFilter(e.doc.Metadata, q.Filter) {
			continue
		}
		score := cosine(q.Vector, e.embedding)
		if score < q.MinScore {
			continue
		}
		scored = append(scored, &vectorstore.ScoredDocument{Document: e.doc.Clone(), Score: score})
	}
	v.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].Document.ID < scored[j].Document.ID
		}
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return &vectorstore.SearchResult{Results: scored}, nil
}

func matchFilter(meta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
