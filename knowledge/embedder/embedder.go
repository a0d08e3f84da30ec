//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package embedder declares the embedding capability used by knowledge ingestion.
package embedder

import (
	"context"
)

// UsageTotalTokens is the usage key read for token accounting.
const UsageTotalTokens = "total_tokens"

// Embedder is the interface that all embedders must implement.
type Embedder interface {
	// GetEmbedding generates an embedding vector for the given text.
	GetEmbedding(ctx context.Context, text string) ([]float64, error)
	// GetEmbeddingWithUsage also returns provider usage, which may be nil.
	GetEmbeddingWithUsage(ctx context.Context, text string) ([]float64, map[string]any, error)
	// GetDimensions returns the dimensionality of the embeddings, or 0 if unknown.
	GetDimensions() int
}

// TokensFromUsage reads the total token count of a usage map.
func TokensFromUsage(usage map[string]any) int64 {
	switch v := usage[UsageTotalTokens].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
