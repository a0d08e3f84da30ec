//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/knowledge/document"
	"github.com/xpert-ai/xpert-sub002/knowledge/vectorstore"
)

func TestVectorStore(t *testing.T) {
	ctx := context.Background()
	vs := New()
	require.NoError(t, vs.Add(ctx, &document.Document{ID: "a", Content: "apple",
		Metadata: map[string]any{"kb": "fruit"}}, []float64{1, 0}))
	require.NoError(t, vs.Add(ctx, &document.Document{ID: "b", Content: "banana",
		Metadata: map[string]any{"kb": "fruit"}}, []float64{0.7, 0.7}))
	require.NoError(t, vs.Add(ctx, &document.Document{ID: "c", Content: "car",
		Metadata: map[string]any{"kb": "vehicle"}}, []float64{0, 1}))
	require.Error(t, vs.Add(ctx, &document.Document{ID: "d"}, nil))

	n, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := vs.Search(ctx, &vectorstore.SearchQuery{Vector: []float64{1, 0}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a", res.Results[0].Document.ID)
	assert.Equal(t, "b", res.Results[1].Document.ID)

	res, err = vs.Search(ctx, &vectorstore.SearchQuery{Vector: []float64{0, 1},
		Filter: map[string]any{"kb": "fruit"}})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "b", res.Results[0].Document.ID)

	res, err = vs.Search(ctx, &vectorstore.SearchQuery{Vector: []float64{1, 0}, MinScore: 0.9})
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)

	doc, emb, err := vs.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "car", doc.Content)
	assert.Equal(t, []float64{0, 1}, emb)

	require.NoError(t, vs.Delete(ctx, "c"))
	_, _, err = vs.Get(ctx, "c")
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
	assert.ErrorIs(t, vs.Delete(ctx, "c"), vectorstore.ErrNotFound)

	_, err = vs.Search(ctx, &vectorstore.SearchQuery{})
	assert.Error(t, err)
}
