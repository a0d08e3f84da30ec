//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package nodes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/execution/inmemory"
	"github.com/xpert-ai/xpert-sub002/graph"
	ckptmem "github.com/xpert-ai/xpert-sub002/graph/checkpoint/inmemory"
	"github.com/xpert-ai/xpert-sub002/model"
)

// scriptedModel answers each request with the next scripted message. Text
// is streamed as one partial chunk before the final response.
type scriptedModel struct {
	mu       sync.Mutex
	turns    []model.Message
	usage    int
	requests [][]model.Message
}

func (m *scriptedModel) GenerateContent(_ context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, append([]model.Message(nil), req.Messages...))
	if len(m.turns) == 0 {
		return nil, errors.New("script exhausted")
	}
	msg := m.turns[0]
	m.turns = m.turns[1:]
	ch := make(chan *model.Response, 2)
	if msg.Content != "" {
		ch <- &model.Response{IsPartial: true, Choices: []model.Choice{{Delta: model.Message{Content: msg.Content}}}}
	}
	ch <- &model.Response{
		Choices: []model.Choice{{Message: msg}},
		Usage:   &model.Usage{TotalTokens: m.usage},
		Done:    true,
	}
	close(ch)
	return ch, nil
}

func (m *scriptedModel) Info() model.Info { return model.Info{Name: "scripted"} }

func (m *scriptedModel) provider() model.Provider {
	return model.ProviderFunc(func(string) (model.Model, error) { return m, nil })
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recorder) Emit(_ context.Context, e *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) named(kind event.Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e.Name)
		}
	}
	return out
}

func (r *recorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s string
	for _, e := range r.events {
		if e.Type == event.TypeMessage {
			if v, ok := e.Data.(string); ok {
				s += v
			}
		}
	}
	return s
}

// harness compiles graphs against the real strategies and keeps the stores
// shared between a run and its resume.
type harness struct {
	t       *testing.T
	deps    Deps
	events  *recorder
	tracker *execution.Tracker
	saver   *ckptmem.Saver
}

func newHarness(t *testing.T, deps Deps) *harness {
	rec := &recorder{}
	return &harness{
		t:       t,
		deps:    deps,
		events:  rec,
		tracker: execution.NewTracker(inmemory.New(), rec),
		saver:   ckptmem.NewSaver(),
	}
}

func (h *harness) compile(src string) (*graph.CompiledGraph, error) {
	g, err := graph.Decode([]byte(src))
	if err != nil {
		return nil, err
	}
	reg, err := NewRegistry(h.deps)
	require.NoError(h.t, err)
	return graph.NewCompiler(reg).Compile(context.Background(), g)
}

func (h *harness) executor(src string) *graph.Executor {
	cg, err := h.compile(src)
	require.NoError(h.t, err)
	exec, err := graph.NewExecutor(cg, graph.WithCheckpointSaver(h.saver))
	require.NoError(h.t, err)
	return exec
}

func (h *harness) newRun(interruptBefore ...string) *graph.Run {
	return graph.NewRun(graph.RuntimeConfig{XpertID: "x1", ThreadID: "thread-1", InterruptBefore: interruptBefore}, h.tracker, h.events)
}

func (h *harness) run(src string, inputs map[string]any, interruptBefore ...string) (*graph.RunResult, error) {
	return h.executor(src).Execute(context.Background(), h.newRun(interruptBefore...), inputs)
}

// resume continues the latest checkpoint of the thread with d.
func (h *harness) resume(exec *graph.Executor, d *graph.ResumeDecision, interruptBefore ...string) (*graph.RunResult, error) {
	ckpt, err := h.saver.Get(context.Background(), graph.CheckpointAddress{ThreadID: "thread-1"})
	require.NoError(h.t, err)
	return exec.Resume(context.Background(), h.newRun(interruptBefore...), ckpt, d)
}
