//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func squares(n int, delay func(i int) time.Duration) []Task[int] {
	tasks := make([]Task[int], n)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, error) {
			if delay != nil {
				time.Sleep(delay(i))
			}
			return i * i, nil
		}
	}
	return tasks
}

func TestRunBounded_LimitAndOrder(t *testing.T) {
	var inFlight, peak int32
	tasks := make([]Task[int], 10)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			// Later items finish first.
			time.Sleep(time.Duration(10-i) * 3 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return i, nil
		}
	}

	results, err := RunBounded(context.Background(), tasks, Options{Limit: 3, Parallel: true})
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i, r.Value)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRunBounded_SequentialWhenNotParallel(t *testing.T) {
	var inFlight, peak int32
	tasks := make([]Task[int], 5)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			if n := atomic.AddInt32(&inFlight, 1); n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return 0, nil
		}
	}
	_, err := RunBounded(context.Background(), tasks, Options{Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak)
}

func failingAt(n, bad int) []Task[int] {
	tasks := make([]Task[int], n)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, error) {
			if i == bad {
				return 0, fmt.Errorf("item %d broke", i)
			}
			return i + 1, nil
		}
	}
	return tasks
}

func TestRunBounded_ErrorModes(t *testing.T) {
	ctx := context.Background()

	t.Run("terminate", func(t *testing.T) {
		results, err := RunBounded(ctx, failingAt(5, 2), Options{ErrorMode: ErrorModeTerminate})
		var itemErr *ItemError
		require.ErrorAs(t, err, &itemErr)
		assert.Equal(t, 2, itemErr.Index)
		assert.Equal(t, []int{1, 2}, Values(results))
	})

	t.Run("ignore", func(t *testing.T) {
		results, err := RunBounded(ctx, failingAt(5, 2), Options{ErrorMode: ErrorModeIgnore, Parallel: true, Limit: 2})
		require.NoError(t, err)
		require.Len(t, results, 5)
		assert.Error(t, results[2].Err)
		assert.Equal(t, 4, results[3].Value)
	})

	t.Run("remove", func(t *testing.T) {
		results, err := RunBounded(ctx, failingAt(5, 2), Options{ErrorMode: ErrorModeRemove, Parallel: true})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 4, 5}, Values(results))
		for _, r := range results {
			assert.NotEqual(t, 2, r.Index)
		}
	})
}

func TestRunBounded_Maximum(t *testing.T) {
	results, err := RunBounded(context.Background(), squares(10, nil), Options{Maximum: 4, Parallel: true})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 9}, Values(results))
}

func TestRunBounded_CancellationStopsScheduling(t *testing.T) {
	var cancelled atomic.Bool
	var started, finished int32
	tasks := make([]Task[int], 10)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, error) {
			atomic.AddInt32(&started, 1)
			if i == 2 {
				cancelled.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&finished, 1)
			return i, nil
		}
	}

	results, err := RunBounded(context.Background(), tasks, Options{
		Limit:     2,
		Parallel:  true,
		Cancelled: cancelled.Load,
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, atomic.LoadInt32(&started), int32(10))
	// Everything that started also ran to completion.
	assert.Equal(t, atomic.LoadInt32(&started), atomic.LoadInt32(&finished))
	assert.Less(t, len(results), 10)
}

func TestRunBounded_ParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunBounded(ctx, squares(3, nil), Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunBounded_SharedPool(t *testing.T) {
	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	results, err := RunBounded(context.Background(), squares(6, nil), Options{Parallel: true, Pool: pool})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 9, 16, 25}, Values(results))
}

func TestRunBounded_Empty(t *testing.T) {
	results, err := RunBounded[int](context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunBounded_OrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		limit := rapid.IntRange(1, 6).Draw(rt, "limit")
		delays := rapid.SliceOfN(rapid.IntRange(0, 3), n, n).Draw(rt, "delays")

		results, err := RunBounded(context.Background(), squares(n, func(i int) time.Duration {
			return time.Duration(delays[i]) * time.Millisecond
		}), Options{Limit: limit, Parallel: true})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(results) != n {
			rt.Fatalf("got %d results, want %d", len(results), n)
		}
		for i, r := range results {
			if r.Index != i || r.Value != i*i {
				rt.Fatalf("result %d out of order: %+v", i, r)
			}
		}
	})
}
