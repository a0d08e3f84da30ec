//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package fanout bounds concurrent fan-out of loop iterations and batch jobs.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// ErrorMode decides what happens to the batch when one item fails.
type ErrorMode string

// Error modes.
const (
	// ErrorModeTerminate aborts remaining items and returns the first error.
	ErrorModeTerminate ErrorMode = "terminate"
	// ErrorModeIgnore keeps the failed item in the output with its error.
	ErrorModeIgnore ErrorMode = "ignore"
	// ErrorModeRemove drops failed items from the output.
	ErrorModeRemove ErrorMode = "remove"
)

// ErrCancelled is returned when the cancellation predicate stopped scheduling.
var ErrCancelled = errors.New("fanout: cancelled")

// ItemError reports the failure of one item under ErrorModeTerminate.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("fanout: item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Task is one unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the outcome of one task, positioned by its input index.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Options configures RunBounded.
type Options struct {
	// Limit is the maximum number of tasks in flight. Non-positive means
	// one worker per task.
	Limit int
	// Parallel false forces Limit to 1.
	Parallel bool
	// Maximum caps the number of tasks taken from the input. Zero means no cap.
	Maximum int
	// ErrorMode defaults to ErrorModeTerminate.
	ErrorMode ErrorMode
	// Cancelled is polled before each task is scheduled.
	Cancelled func() bool
	// Pool runs the tasks when set. A temporary pool is used otherwise.
	Pool *ants.Pool
}

func (o Options) limit(n int) int {
	if !o.Parallel {
		return 1
	}
	if o.Limit <= 0 || o.Limit > n {
		return n
	}
	return o.Limit
}

// RunBounded runs tasks with at most opts.Limit in flight and returns their
// results in input order. Once cancellation is observed no new task starts;
// tasks already running finish but their results are discarded.
func RunBounded[T any](ctx context.Context, tasks []Task[T], opts Options) ([]Result[T], error) {
	if opts.Maximum > 0 && len(tasks) > opts.Maximum {
		tasks = tasks[:opts.Maximum]
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	if opts.ErrorMode == "" {
		opts.ErrorMode = ErrorModeTerminate
	}
	limit := opts.limit(len(tasks))

	pool := opts.Pool
	if pool == nil {
		p, err := ants.NewPool(limit)
		if err != nil {
			return nil, fmt.Errorf("fanout: create pool: %w", err)
		}
		defer p.Release()
		pool = p
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		slots    = make(chan struct{}, limit)
		results  = make([]Result[T], len(tasks))
		finished = make([]bool, len(tasks))
		stopped  bool
		discard  bool
		stopErr  error
	)
	// stop halts scheduling for a cancellation or a submit failure; results
	// of tasks still in flight are dropped.
	stop := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		discard = true
		if !stopped {
			stopped = true
			stopErr = err
		}
	}
	isStopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopped
	}

schedule:
	for i, task := range tasks {
		select {
		case slots <- struct{}{}:
		case <-runCtx.Done():
			if err := ctx.Err(); err != nil {
				stop(err)
			}
			break schedule
		}
		if isStopped() {
			<-slots
			break
		}
		if opts.Cancelled != nil && opts.Cancelled() {
			<-slots
			stop(ErrCancelled)
			break
		}
		if err := ctx.Err(); err != nil {
			<-slots
			stop(err)
			break
		}

		idx, fn := i, task
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() { <-slots }()
			v, err := fn(runCtx)

			mu.Lock()
			defer mu.Unlock()
			if discard {
				return
			}
			results[idx] = Result[T]{Index: idx, Value: v, Err: err}
			finished[idx] = true
			if err != nil && opts.ErrorMode == ErrorModeTerminate && !stopped {
				stopped = true
				stopErr = &ItemError{Index: idx, Err: err}
				cancel()
			}
		})
		if err != nil {
			wg.Done()
			<-slots
			stop(fmt.Errorf("fanout: submit task %d: %w", idx, err))
			break
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	limitIdx := len(tasks)
	var itemErr *ItemError
	if errors.As(stopErr, &itemErr) {
		limitIdx = itemErr.Index
	}
	out := make([]Result[T], 0, len(tasks))
	for i := 0; i < limitIdx; i++ {
		if !finished[i] {
			continue
		}
		r := results[i]
		if r.Err != nil && opts.ErrorMode != ErrorModeIgnore {
			continue
		}
		out = append(out, r)
	}
	return out, stopErr
}

// Values extracts the values of results, in order.
func Values[T any](results []Result[T]) []T {
	out := make([]T, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	return out
}
