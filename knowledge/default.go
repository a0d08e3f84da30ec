//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"

	"github.com/xpert-ai/xpert-sub002/internal/fanout"
	"github.com/xpert-ai/xpert-sub002/knowledge/chunking"
	"github.com/xpert-ai/xpert-sub002/knowledge/document"
	"github.com/xpert-ai/xpert-sub002/knowledge/embedder"
	"github.com/xpert-ai/xpert-sub002/knowledge/vectorstore"
	"github.com/xpert-ai/xpert-sub002/log"
)

// Ingestion defaults.
const (
	DefaultDocParallelism   = 5
	DefaultBatchParallelism = 3
	DefaultBatchSize        = 16
)

// BuiltinKnowledge combines a chunker, an embedder and a vector store.
type BuiltinKnowledge struct {
	embedder    embedder.Embedder
	vectorStore vectorstore.VectorStore
	chunker     chunking.Strategy

	docParallelism   int
	batchParallelism int
	batchSize        int
	pool             *ants.Pool
}

// Option configures BuiltinKnowledge.
type Option func(*BuiltinKnowledge)

// WithEmbedder sets the embedder.
func WithEmbedder(e embedder.Embedder) Option {
	return func(k *BuiltinKnowledge) {
		k.embedder = e
	}
}

// WithVectorStore sets the vector store.
func WithVectorStore(vs vectorstore.VectorStore) Option {
	return func(k *BuiltinKnowledge) {
		k.vectorStore = vs
	}
}

// WithChunker sets the chunking strategy. Markdown chunking is the default.
func WithChunker(c chunking.Strategy) Option {
	return func(k *BuiltinKnowledge) {
		k.chunker = c
	}
}

// WithDocParallelism sets how many documents are ingested at once.
func WithDocParallelism(n int) Option {
	return func(k *BuiltinKnowledge) {
		k.docParallelism = n
	}
}

// WithBatchParallelism sets how many embedding sub-batches of one document run at once.
func WithBatchParallelism(n int) Option {
	return func(k *BuiltinKnowledge) {
		k.batchParallelism = n
	}
}

// WithBatchSize sets the number of chunks per embedding sub-batch.
func WithBatchSize(n int) Option {
	return func(k *BuiltinKnowledge) {
		k.batchSize = n
	}
}

// WithPool runs ingestion jobs on a shared worker pool.
func WithPool(p *ants.Pool) Option {
	return func(k *BuiltinKnowledge) {
		k.pool = p
	}
}

// New creates a knowledge base. Embedder and vector store are required.
func New(opts ...Option) (*BuiltinKnowledge, error) {
	k := &BuiltinKnowledge{
		chunker:          chunking.NewMarkdownChunking(),
		docParallelism:   DefaultDocParallelism,
		batchParallelism: DefaultBatchParallelism,
		batchSize:        DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.embedder == nil {
		return nil, errors.New("knowledge: embedder is required")
	}
	if k.vectorStore == nil {
		return nil, errors.New("knowledge: vector store is required")
	}
	return k, nil
}

// Search implements Knowledge.
func (k *BuiltinKnowledge) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil || req.Query == "" {
		return nil, errors.New("knowledge: query is empty")
	}
	vec, usage, err := k.embedder.GetEmbeddingWithUsage(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	res, err := k.vectorStore.Search(ctx, &vectorstore.SearchQuery{
		Vector:   vec,
		Limit:    req.MaxResults,
		MinScore: req.MinScore,
		Filter:   req.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	out := &SearchResult{Tokens: embedder.TokensFromUsage(usage)}
	for _, r := range res.Results {
		out.Matches = append(out.Matches, Match{Document: r.Document, Score: r.Score})
	}
	return out, nil
}

// IngestResult is the outcome for one source document.
type IngestResult struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
	Tokens     int64  `json:"tokens"`
	Error      string `json:"error,omitempty"`
}

// Ingest chunks, embeds and stores docs. A document that fails is reported
// in its result and does not stop the others. cancelled is polled before
// each document and each sub-batch is scheduled.
func (k *BuiltinKnowledge) Ingest(ctx context.Context, docs []*document.Document, cancelled func() bool) ([]IngestResult, error) {
	tasks := make([]fanout.Task[IngestResult], len(docs))
	for i, doc := range docs {
		doc := doc
		tasks[i] = func(ctx context.Context) (IngestResult, error) {
			res := IngestResult{DocumentID: doc.ID}
			chunks, tokens, err := k.ingestDocument(ctx, doc, cancelled)
			res.Chunks, res.Tokens = chunks, tokens
			if err != nil {
				log.Warnf("knowledge: ingest %s: %v", doc.ID, err)
				res.Error = err.Error()
				return res, err
			}
			return res, nil
		}
	}
	results, err := fanout.RunBounded(ctx, tasks, fanout.Options{
		Limit:     k.docParallelism,
		Parallel:  true,
		ErrorMode: fanout.ErrorModeIgnore,
		Cancelled: cancelled,
		Pool:      k.pool,
	})
	out := make([]IngestResult, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	return out, err
}

func (k *BuiltinKnowledge) ingestDocument(ctx context.Context, doc *document.Document, cancelled func() bool) (int, int64, error) {
	chunks, err := k.chunker.Chunk(doc)
	if err != nil {
		return 0, 0, err
	}
	var batches [][]*document.Document
	for start := 0; start < len(chunks); start += k.batchSize {
		end := start + k.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	tasks := make([]fanout.Task[int64], len(batches))
	for i, batch := range batches {
		batch := batch
		tasks[i] = func(ctx context.Context) (int64, error) {
			return k.embedBatch(ctx, batch)
		}
	}
	results, err := fanout.RunBounded(ctx, tasks, fanout.Options{
		Limit:     k.batchParallelism,
		Parallel:  true,
		ErrorMode: fanout.ErrorModeTerminate,
		Cancelled: cancelled,
	})
	var tokens int64
	for _, r := range results {
		tokens += r.Value
	}
	if err != nil {
		return 0, tokens, err
	}
	return len(chunks), tokens, nil
}

func (k *BuiltinKnowledge) embedBatch(ctx context.Context, batch []*document.Document) (int64, error) {
	var tokens int64
	for _, chunk := range batch {
		vec, usage, err := k.embedder.GetEmbeddingWithUsage(ctx, chunk.Content)
		if err != nil {
			return tokens, fmt.Errorf("embed %s: %w", chunk.ID, err)
		}
		tokens += embedder.TokensFromUsage(usage)
		if err := k.vectorStore.Add(ctx, chunk, vec); err != nil {
			return tokens, fmt.Errorf("store %s: %w", chunk.ID, err)
		}
	}
	return tokens, nil
}
