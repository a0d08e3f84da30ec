//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStore_WriteRead(t *testing.T) {
	s := New()
	require.NoError(t, s.Write("a", "a", map[string]any{"x": 1, "nested": map[string]any{"y": "z"}}))
	require.NoError(t, s.Write("a", "a", map[string]any{"list": []any{"p", "q"}}))

	v, ok := s.Read("a", "x")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = s.Read("a", "nested", "y")
	require.True(t, ok)
	assert.Equal(t, "z", v)
	v, ok = s.Read("a", "list", "1")
	require.True(t, ok)
	assert.Equal(t, "q", v)

	_, ok = s.Read("a", "missing")
	assert.False(t, ok)
	_, ok = s.Read("a", "list", "7")
	assert.False(t, ok)
	_, ok = s.Read("nope")
	assert.False(t, ok)
}

func TestStore_Ownership(t *testing.T) {
	s := New()
	require.NoError(t, s.Write("a", "a", map[string]any{"x": 1}))
	require.ErrorIs(t, s.Write("b", "a", map[string]any{"x": 2}), ErrOwnership)
	require.NoError(t, s.Write("", "a", map[string]any{"x": 3}))
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := New()
	require.NoError(t, s.Write("a", "a", map[string]any{"m": map[string]any{"k": 1}}))
	snap := s.Snapshot()
	snap["a"]["m"].(map[string]any)["k"] = 99

	v, _ := s.Read("a", "m", "k")
	assert.Equal(t, 1, v)

	read, _ := s.Read("a", "m")
	read.(map[string]any)["k"] = 42
	v, _ = s.Read("a", "m", "k")
	assert.Equal(t, 1, v)
}

func TestStore_Fork(t *testing.T) {
	s := New()
	require.NoError(t, s.Write("", "sys", map[string]any{"q": "hi"}))
	f := s.Fork()
	require.NoError(t, f.Write("it", "it", map[string]any{"item": 1}))
	require.NoError(t, s.Write("", "sys", map[string]any{"q": "changed"}))

	_, ok := s.Read("it")
	assert.False(t, ok)
	v, _ := f.Read("sys", "q")
	assert.Equal(t, "hi", v)
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Write("", "c", map[string]any{"v": j})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Read("c", "v")
				s.Snapshot()
			}
		}()
	}
	wg.Wait()
	v, ok := s.Read("c", "v")
	require.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestStore_MergeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfDistinct(rapid.StringMatching(`[a-d]`), rapid.ID[string]).Draw(t, "keys")
		base := map[string]any{}
		for _, k := range rapid.SliceOf(rapid.StringMatching(`[a-f]`)).Draw(t, "base") {
			base[k] = rapid.Int().Draw(t, "bv")
		}
		patch := map[string]any{}
		for _, k := range keys {
			patch[k] = rapid.Int().Draw(t, "pv")
		}

		once := New()
		_ = once.Write("", "c", base)
		_ = once.Write("", "c", patch)

		twice := New()
		_ = twice.Write("", "c", base)
		_ = twice.Write("", "c", patch)
		_ = twice.Write("", "c", patch)

		if !assert.ObjectsAreEqual(once.Snapshot(), twice.Snapshot()) {
			t.Fatalf("merge is not idempotent: %v vs %v", once.Snapshot(), twice.Snapshot())
		}
		for k, v := range patch {
			got, ok := twice.Read("c", k)
			if !ok || got != v {
				t.Fatalf("patch key %s lost", k)
			}
		}
	})
}
