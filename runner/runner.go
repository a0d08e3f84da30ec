//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package runner compiles xpert graphs, starts runs and resumes the ones
// waiting for a human decision.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/execution/inmemory"
	"github.com/xpert-ai/xpert-sub002/graph"
	ckptmem "github.com/xpert-ai/xpert-sub002/graph/checkpoint/inmemory"
	"github.com/xpert-ai/xpert-sub002/graph/nodes"
	itelemetry "github.com/xpert-ai/xpert-sub002/internal/telemetry"
	"github.com/xpert-ai/xpert-sub002/log"
	"github.com/xpert-ai/xpert-sub002/telemetry/metric"
	"github.com/xpert-ai/xpert-sub002/telemetry/trace"
)

// Errors.
var (
	ErrXpertMismatch = errors.New("runner: execution belongs to another xpert")
	ErrNotRoot       = errors.New("runner: not a root execution")
	ErrNotActive     = errors.New("runner: execution is not running here")
)

// DefaultCompileCacheSize bounds the compiled graphs kept per runner.
const DefaultCompileCacheSize = 128

// Option is a function that configures a Runner.
type Option func(*Options)

// Options is the options for the Runner.
type Options struct {
	saver       graph.CheckpointSaver
	store       execution.Store
	bufferSize  int
	maxSteps    int
	nodeTimeout time.Duration
	cacheSize   int
	instruments *metric.Instruments
}

// WithCheckpointSaver sets where interrupted runs are saved. Defaults to an
// in-memory saver.
func WithCheckpointSaver(s graph.CheckpointSaver) Option {
	return func(o *Options) { o.saver = s }
}

// WithExecutionStore sets the execution record store. Defaults to memory.
func WithExecutionStore(s execution.Store) Option {
	return func(o *Options) { o.store = s }
}

// WithBufferSize sets the event buffer of each run.
func WithBufferSize(n int) Option {
	return func(o *Options) { o.bufferSize = n }
}

// WithMaxSteps caps the steps of every scope.
func WithMaxSteps(n int) Option {
	return func(o *Options) { o.maxSteps = n }
}

// WithNodeTimeout sets the timeout of nodes that do not declare one.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *Options) { o.nodeTimeout = d }
}

// WithCompileCacheSize sets how many compiled graphs are kept.
func WithCompileCacheSize(n int) Option {
	return func(o *Options) { o.cacheSize = n }
}

// WithInstruments records run, node and compile metrics.
func WithInstruments(i *metric.Instruments) Option {
	return func(o *Options) { o.instruments = i }
}

// RunRequest starts a run of an xpert.
type RunRequest struct {
	XpertID  string `json:"xpertId"`
	AgentKey string `json:"agentKey,omitempty"`
	// ThreadID groups the checkpoints of the run. A new one is made when
	// empty.
	ThreadID        string         `json:"threadId,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	InterruptBefore []string       `json:"interruptBefore,omitempty"`
}

// Handle follows one run started or resumed by the Runner.
type Handle struct {
	ExecutionID string
	ThreadID    string
	// Duplicate is set when a resume repeated an earlier one and nothing
	// ran.
	Duplicate bool

	events <-chan *event.Event
	run    *graph.Run
	done   chan struct{}
	res    *graph.RunResult
	err    error
}

// Events streams the events of the run. The channel closes when the run
// ends or suspends.
func (h *Handle) Events() <-chan *event.Event { return h.events }

// Wait discards unread events and returns the outcome of the run.
func (h *Handle) Wait() (*graph.RunResult, error) {
	for range h.events {
	}
	<-h.done
	return h.res, h.err
}

// Cancel stops the run before its next step.
func (h *Handle) Cancel() {
	if h.run != nil {
		h.run.Cancel()
	}
}

func finished(res *graph.RunResult, threadID string) *Handle {
	ch := make(chan *event.Event)
	close(ch)
	done := make(chan struct{})
	close(done)
	return &Handle{ExecutionID: res.ExecutionID, ThreadID: threadID, Duplicate: true, events: ch, done: done, res: res}
}

// Runner starts and resumes xpert runs.
type Runner struct {
	graphs   nodes.GraphLoader
	compiler *graph.Compiler
	tracker  *execution.Tracker
	opts     Options

	mu     sync.Mutex
	active map[string]*Handle
	wg     sync.WaitGroup
}

// New creates a Runner compiling the graphs of loader with the strategies
// of reg.
func New(loader nodes.GraphLoader, reg *graph.Registry, opts ...Option) *Runner {
	o := Options{bufferSize: event.DefaultBufferSize, cacheSize: DefaultCompileCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.saver == nil {
		o.saver = ckptmem.NewSaver()
	}
	if o.store == nil {
		o.store = inmemory.New()
	}
	return &Runner{
		graphs: loader,
		compiler: graph.NewCompiler(reg,
			graph.WithCompileCache(graph.NewCompileCache(o.cacheSize)),
			graph.WithCompilerInstruments(o.instruments)),
		tracker: execution.NewTracker(o.store, nil),
		opts:    o,
		active:  make(map[string]*Handle),
	}
}

// Tracker returns the tracker records are written through.
func (r *Runner) Tracker() *execution.Tracker { return r.tracker }

func (r *Runner) executor(ctx context.Context, xpertID string) (*graph.Executor, error) {
	g, err := r.graphs.LoadGraph(ctx, xpertID)
	if err != nil {
		return nil, err
	}
	cg, err := r.compiler.Compile(ctx, g)
	if err != nil {
		return nil, err
	}
	opts := []graph.ExecutorOption{
		graph.WithCheckpointSaver(r.opts.saver),
		graph.WithInstruments(r.opts.instruments),
	}
	if r.opts.maxSteps > 0 {
		opts = append(opts, graph.WithMaxSteps(r.opts.maxSteps))
	}
	if r.opts.nodeTimeout > 0 {
		opts = append(opts, graph.WithNodeTimeout(r.opts.nodeTimeout))
	}
	return graph.NewExecutor(cg, opts...)
}

// RunGraph compiles the xpert graph and starts a run in the background.
// Compile errors are returned before anything is recorded.
func (r *Runner) RunGraph(ctx context.Context, req RunRequest) (*Handle, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCompile)
	defer span.End()
	span.SetAttributes(attribute.String(itelemetry.KeyXpertID, req.XpertID))

	exec, err := r.executor(ctx, req.XpertID)
	if err != nil {
		return nil, err
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	stream := event.NewStream(r.opts.bufferSize)
	run := graph.NewRun(graph.RuntimeConfig{
		XpertID:         req.XpertID,
		AgentKey:        req.AgentKey,
		ThreadID:        threadID,
		InterruptBefore: req.InterruptBefore,
	}, r.tracker.WithEmitter(stream), stream)
	drive, err := exec.Start(ctx, run, req.Input)
	if err != nil {
		stream.Close()
		return nil, err
	}
	h := &Handle{ExecutionID: run.ExecutionID, ThreadID: threadID, events: stream.Events(), run: run, done: make(chan struct{})}
	r.launch(ctx, h, stream, drive)
	return h, nil
}

// Trigger starts a run nobody listens to and returns its execution id.
func (r *Runner) Trigger(ctx context.Context, xpertID, agentKey string, input map[string]any) (string, error) {
	h, err := r.RunGraph(ctx, RunRequest{XpertID: xpertID, AgentKey: agentKey, Input: input})
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := h.Wait(); err != nil {
			log.Warnf("runner: triggered run %s of %s failed: %v", h.ExecutionID, xpertID, err)
		}
	}()
	return h.ExecutionID, nil
}

func (r *Runner) launch(ctx context.Context, h *Handle, stream *event.Stream, drive func(context.Context) (*graph.RunResult, error)) {
	r.mu.Lock()
	r.active[h.ExecutionID] = h
	r.mu.Unlock()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		defer stream.Close()
		defer func() {
			r.mu.Lock()
			delete(r.active, h.ExecutionID)
			r.mu.Unlock()
		}()
		h.res, h.err = drive(ctx)
		if h.err != nil {
			log.With("executionId", h.ExecutionID, "threadId", h.ThreadID).Warnf("runner: run ended: %v", h.err)
		}
	}()
}

// Cancel stops a run of this runner.
func (r *Runner) Cancel(executionID string) error {
	r.mu.Lock()
	h, ok := r.active[executionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, executionID)
	}
	h.Cancel()
	return nil
}

// Execution returns the record tree of an execution.
func (r *Runner) Execution(ctx context.Context, id string) (*execution.Record, error) {
	return r.tracker.Tree(ctx, id)
}

// Shutdown cancels the active runs and waits for them to settle or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, h := range r.active {
		h.Cancel()
	}
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
