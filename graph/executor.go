//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xpert-ai/xpert-sub002/execution"
	itelemetry "github.com/xpert-ai/xpert-sub002/internal/telemetry"
	"github.com/xpert-ai/xpert-sub002/log"
	"github.com/xpert-ai/xpert-sub002/telemetry/metric"
	"github.com/xpert-ai/xpert-sub002/telemetry/trace"
)

// DefaultMaxSteps bounds the supersteps of one scope.
const DefaultMaxSteps = 500

// Executor runs a compiled graph. It is safe for concurrent runs; all run
// data lives in the Run and State passed to it.
type Executor struct {
	graph       *CompiledGraph
	saver       CheckpointSaver
	maxSteps    int
	nodeTimeout time.Duration
	instruments *metric.Instruments
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCheckpointSaver stores a checkpoint after every step and at interrupts.
func WithCheckpointSaver(s CheckpointSaver) ExecutorOption {
	return func(e *Executor) { e.saver = s }
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithNodeTimeout sets the timeout for nodes that do not declare one.
func WithNodeTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.nodeTimeout = d }
}

// WithInstruments records node and run metrics.
func WithInstruments(i *metric.Instruments) ExecutorOption {
	return func(e *Executor) { e.instruments = i }
}

// NewExecutor creates an executor for cg.
func NewExecutor(cg *CompiledGraph, opts ...ExecutorOption) (*Executor, error) {
	if cg == nil {
		return nil, fmt.Errorf("%w: nil compiled graph", ErrInvalidGraph)
	}
	e := &Executor{graph: cg, maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Graph returns the compiled graph.
func (e *Executor) Graph() *CompiledGraph { return e.graph }

// InterruptInfo describes a suspended run.
type InterruptInfo struct {
	NodeKey   string               `json:"nodeKey"`
	Operation *execution.Operation `json:"operation"`
	Address   CheckpointAddress    `json:"address"`
}

// RunResult is the outcome of Execute or Resume.
type RunResult struct {
	ExecutionID string                    `json:"executionId"`
	Status      execution.Status          `json:"status"`
	Output      any                       `json:"output,omitempty"`
	Outputs     map[string]any            `json:"outputs,omitempty"`
	State       map[string]map[string]any `json:"-"`
	Interrupt   *InterruptInfo            `json:"interrupt,omitempty"`
}

// Execute starts a run seeded with inputs in the sys channel.
func (e *Executor) Execute(ctx context.Context, run *Run, inputs map[string]any) (*RunResult, error) {
	drive, err := e.Start(ctx, run, inputs)
	if err != nil {
		return nil, err
	}
	return drive(ctx)
}

// Start creates the root record, so run.ExecutionID is known, and returns
// the function that drives the run to its end or next interrupt.
func (e *Executor) Start(ctx context.Context, run *Run, inputs map[string]any) (func(context.Context) (*RunResult, error), error) {
	agentKey := run.Config.AgentKey
	if agentKey == "" {
		agentKey = run.Config.XpertID
	}
	rootID, err := run.Tracker.Begin(ctx, execution.Meta{
		AgentKey: agentKey,
		Title:    run.Config.XpertID,
		XpertID:  run.Config.XpertID,
		ThreadID: run.Config.ThreadID,
		Inputs:   inputs,
	})
	if err != nil {
		return nil, err
	}
	run.ExecutionID = rootID
	state := NewState(inputs)
	return func(ctx context.Context) (*RunResult, error) {
		ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameRun)
		defer span.End()
		span.SetAttributes(
			attribute.String(itelemetry.KeyExecutionID, rootID),
			attribute.String(itelemetry.KeyThreadID, run.Config.ThreadID),
			attribute.String(itelemetry.KeyXpertID, run.Config.XpertID),
		)
		return e.drive(ctx, run, state, e.graph.Start, 0, "")
	}, nil
}

// Resume continues a run from an interrupt checkpoint with the human
// decision. The caller consumes the stored operation first.
func (e *Executor) Resume(ctx context.Context, run *Run, ckpt *Checkpoint, d *ResumeDecision) (*RunResult, error) {
	if ckpt == nil || ckpt.InterruptState == nil {
		return nil, execution.ErrNoPendingOperation
	}
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameResume)
	defer span.End()
	span.SetAttributes(attribute.String(itelemetry.KeyExecutionID, ckpt.ExecutionID))

	run.ExecutionID = ckpt.ExecutionID
	if err := run.Tracker.Resume(ctx, ckpt.ExecutionID); err != nil {
		return nil, err
	}
	is := ckpt.InterruptState
	if d == nil {
		d = &ResumeDecision{Confirm: true}
	}
	run.setDecision(is.decisionKey(), d, is.Operation)
	pending := map[string]string{is.NodeKey: is.ExecutionID}
	for k, id := range is.Pending {
		if k != is.NodeKey {
			pending[k] = id
		}
	}
	run.restore("", pending, is.Groups)
	state := RestoreState(ckpt.ChannelValues)
	return e.drive(ctx, run, state, ckpt.NextNodes, ckpt.Step, ckpt.ID)
}

// drive runs the root scope and settles the root record.
func (e *Executor) drive(ctx context.Context, run *Run, state *State, frontier []string, step int, parentCkpt string) (*RunResult, error) {
	rootID := run.ExecutionID
	run.lastCheckpoint = parentCkpt
	out, err := e.runScope(ctx, run, e.graph, state, rootID, "", frontier, step)
	res := &RunResult{ExecutionID: rootID, State: state.Snapshot()}
	switch {
	case errors.Is(err, ErrRunCancelled):
		if cerr := run.Tracker.Cancel(context.WithoutCancel(ctx), rootID); cerr != nil {
			log.Warnf("graph: cancel root %s: %v", rootID, cerr)
		}
		res.Status = execution.StatusCancelled
		e.instruments.RecordRun(ctx, string(res.Status))
		return res, nil
	case err != nil:
		if ferr := run.Tracker.Fail(context.WithoutCancel(ctx), rootID, err, 0); ferr != nil {
			log.Warnf("graph: fail root %s: %v", rootID, ferr)
		}
		res.Status = execution.StatusError
		e.instruments.RecordRun(ctx, string(res.Status))
		return res, err
	case out.suspended != nil:
		info, err := e.suspend(ctx, run, state, out.suspended)
		if err != nil {
			return nil, err
		}
		res.Status = execution.StatusInterrupted
		res.Interrupt = info
		e.instruments.RecordInterrupt(ctx)
		return res, nil
	}
	r := out.result(state)
	res.Output, res.Outputs = r.Output, r.Outputs
	if err := run.Tracker.Complete(ctx, rootID, execution.Outcome{Outputs: r.Output}); err != nil {
		return nil, err
	}
	res.Status = execution.StatusSuccess
	e.instruments.RecordRun(ctx, string(res.Status))
	return res, nil
}

func (e *Executor) suspend(ctx context.Context, run *Run, state *State, s *suspension) (*InterruptInfo, error) {
	first := s.interrupts[0]
	info := &InterruptInfo{
		NodeKey:   first.nodeKey,
		Operation: first.err.Operation,
		Address:   CheckpointAddress{ThreadID: run.Config.ThreadID},
	}
	if e.saver != nil {
		is := &InterruptState{
			NodeKey:     first.nodeKey,
			ExecutionID: first.executionID,
			Operation:   first.err.Operation,
			Path:        first.err.Path,
			Pending:     make(map[string]string, len(s.interrupts)),
			Groups:      s.groups(),
		}
		for _, in := range s.interrupts {
			is.Pending[in.nodeKey] = in.executionID
		}
		addr, err := e.save(ctx, run, state, s.step, s.next, is)
		if err != nil {
			return nil, err
		}
		info.Address = addr
	}
	if err := run.Tracker.Suspend(ctx, run.ExecutionID, first.err.Operation, info.Address.CheckpointID); err != nil {
		return nil, err
	}
	return info, nil
}

func (e *Executor) save(ctx context.Context, run *Run, state *State, step int, next []string, is *InterruptState) (CheckpointAddress, error) {
	if run.Config.ThreadID == "" {
		return CheckpointAddress{}, ErrThreadIDRequired
	}
	c := &Checkpoint{
		Version:        CheckpointVersion,
		ID:             NewCheckpointID(),
		ParentID:       run.lastCheckpoint,
		Timestamp:      time.Now(),
		Step:           step,
		GraphHash:      e.graph.Hash,
		XpertID:        run.Config.XpertID,
		ExecutionID:    run.ExecutionID,
		ChannelValues:  state.Snapshot(),
		NextNodes:      next,
		InterruptState: is,
	}
	addr, err := e.saver.Put(ctx, CheckpointAddress{ThreadID: run.Config.ThreadID}, c)
	if err != nil {
		return CheckpointAddress{}, fmt.Errorf("save checkpoint: %w", err)
	}
	run.lastCheckpoint = c.ID
	return addr, nil
}

type pendingInterrupt struct {
	nodeKey     string
	executionID string
	err         *InterruptError
}

type suspension struct {
	step       int
	interrupts []pendingInterrupt
	// next holds the interrupted nodes followed by the successors of the
	// nodes that finished in the same step.
	next []string
}

func (s *suspension) groups() map[string]*GroupState {
	var gs map[string]*GroupState
	for _, in := range s.interrupts {
		if in.err.Group == nil {
			continue
		}
		if gs == nil {
			gs = make(map[string]*GroupState)
		}
		gs[in.nodeKey] = in.err.Group
	}
	return gs
}

// scopeState captures a nested scope stopped at s. outputs are those of
// the terminals that already finished.
func (s *suspension) scopeState(state *State, outputs map[string]any) *ScopeState {
	ss := &ScopeState{
		Step:          s.step,
		ChannelValues: state.Snapshot(),
		NextNodes:     s.next,
		Outputs:       outputs,
		Pending:       make(map[string]string, len(s.interrupts)),
		Groups:        s.groups(),
	}
	for _, in := range s.interrupts {
		ss.Pending[in.nodeKey] = in.executionID
	}
	return ss
}

type scopeOutcome struct {
	outputs   map[string]any
	order     []string
	suspended *suspension
}

// merge adds outputs of terminals that ran before a resume.
func (o *scopeOutcome) merge(done map[string]any) {
	for k, v := range done {
		if _, seen := o.outputs[k]; seen {
			continue
		}
		o.outputs[k] = v
		o.order = append(o.order, k)
	}
	if len(done) > 0 {
		sort.Strings(o.order)
	}
}

func (o *scopeOutcome) result(state *State) *ScopeResult {
	r := &ScopeResult{Outputs: o.outputs, State: state}
	if len(o.order) == 1 {
		r.Output = o.outputs[o.order[0]]
	} else if len(o.order) > 1 {
		m := make(map[string]any, len(o.order))
		for k, v := range o.outputs {
			m[k] = v
		}
		r.Output = m
	}
	return r
}

type nodeOutcome struct {
	handle      string
	output      any
	executionID string
	interrupt   *InterruptError
	err         error
}

// runScope advances the frontier of cg step by step. Nodes of one step run
// concurrently; a failing node does not cancel its siblings. prefix is the
// path of the nested run, empty for the root scope.
func (e *Executor) runScope(ctx context.Context, run *Run, cg *CompiledGraph, state *State, parentID, prefix string, frontier []string, step int) (*scopeOutcome, error) {
	out := &scopeOutcome{outputs: make(map[string]any)}
	root := cg == e.graph
	steps := 0
	for len(frontier) > 0 {
		if run.Cancelled() || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrRunCancelled, context.Cause(ctx))
		}
		steps++
		step++
		if steps > e.maxSteps {
			return nil, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, e.maxSteps)
		}
		results := make([]nodeOutcome, len(frontier))
		if len(frontier) == 1 {
			results[0] = e.executeNode(ctx, run, cg, state, parentID, prefix, frontier[0], step)
		} else {
			var wg sync.WaitGroup
			for i, key := range frontier {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i] = e.executeNode(ctx, run, cg, state, parentID, prefix, key, step)
				}()
			}
			wg.Wait()
		}

		var next []string
		var interrupts []pendingInterrupt
		var errs []error
		for i, res := range results {
			key := frontier[i]
			switch {
			case res.interrupt != nil:
				interrupts = append(interrupts, pendingInterrupt{nodeKey: key, executionID: res.executionID, err: res.interrupt})
			case res.err != nil:
				errs = append(errs, res.err)
			default:
				succ := cg.Successors(key, res.handle)
				if len(succ) == 0 {
					if _, seen := out.outputs[key]; !seen {
						out.order = append(out.order, key)
					}
					out.outputs[key] = res.output
				}
				for _, s := range succ {
					next = appendUnique(next, s)
				}
			}
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		sort.Strings(next)
		if len(interrupts) > 0 {
			pending := make([]string, 0, len(interrupts)+len(next))
			for _, in := range interrupts {
				pending = append(pending, in.nodeKey)
			}
			for _, k := range next {
				pending = appendUnique(pending, k)
			}
			out.suspended = &suspension{step: step, interrupts: interrupts, next: pending}
			return out, nil
		}
		frontier = next
		if root && e.saver != nil && run.Config.ThreadID != "" {
			if _, err := e.save(ctx, run, state, step, frontier, nil); err != nil {
				return nil, err
			}
		}
	}
	sort.Strings(out.order)
	return out, nil
}

func (e *Executor) executeNode(ctx context.Context, run *Run, cg *CompiledGraph, state *State, parentID, prefix, key string, step int) nodeOutcome {
	cn, ok := cg.Nodes[key]
	if !ok {
		return nodeOutcome{err: fmt.Errorf("%w: node %s is not part of the compiled graph", ErrInvalidGraph, key)}
	}
	n := cn.Node
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNamePrefixExecNode+" "+key)
	defer span.End()

	ns := key + ":" + uuid.NewString()
	path := joinPath(prefix, key)
	id, reused := run.takeReuse(path)
	if reused {
		if err := run.Tracker.Resume(ctx, id); err != nil {
			return nodeOutcome{err: err}
		}
		if rec, err := run.Tracker.Get(ctx, id); err == nil && rec.CheckpointNs != "" {
			ns = rec.CheckpointNs
		}
	} else {
		var err error
		id, err = run.Tracker.Begin(ctx, execution.Meta{
			ParentID:     parentID,
			AgentKey:     key,
			Title:        n.Name(),
			NodeType:     string(n.Type),
			XpertID:      run.Config.XpertID,
			ThreadID:     run.Config.ThreadID,
			CheckpointNs: ns,
		})
		if err != nil {
			return nodeOutcome{err: err}
		}
	}
	itelemetry.TraceNode(span, id, key, string(n.Type), step)

	nc := &NodeContext{
		Node:         n,
		Compiled:     cn,
		State:        state,
		Run:          run,
		ExecutionID:  id,
		ParentID:     parentID,
		CheckpointNs: ns,
		Step:         step,
		exec:         e,
		state:        state,
		path:         path,
	}
	start := time.Now()
	var res *Result
	attempts, err := cn.Common.Retry.Policy().Do(ctx, func(ctx context.Context, _ int) error {
		r, err := e.invoke(ctx, cn, nc)
		res = r
		return err
	})
	elapsed := time.Since(start)
	if err == nil && res != nil && len(res.Patch) > 0 {
		err = state.Write(key, res.Patch)
	}

	if err != nil {
		if ie, ok := AsInterrupt(err); ok {
			if serr := run.Tracker.Suspend(ctx, id, ie.Operation, ""); serr != nil {
				return nodeOutcome{err: serr}
			}
			span.SetAttributes(attribute.String(itelemetry.KeyStatus, string(execution.StatusInterrupted)))
			return nodeOutcome{executionID: id, interrupt: ie}
		}
		if run.Cancelled() || errors.Is(err, context.Canceled) {
			_ = run.Tracker.Cancel(context.WithoutCancel(ctx), id)
			return nodeOutcome{err: fmt.Errorf("%w: %v", ErrRunCancelled, err)}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.instruments.RecordNode(ctx, string(n.Type), string(execution.StatusError), elapsed.Seconds())
		if ferr := run.Tracker.Fail(context.WithoutCancel(ctx), id, err, elapsed); ferr != nil {
			log.Warnf("graph: fail record %s: %v", id, ferr)
		}
		return e.handleFailure(cn, state, id, attempts, err)
	}
	if res == nil {
		res = &Result{}
	}
	if err := run.Tracker.Complete(ctx, id, execution.Outcome{
		Outputs:     res.Output,
		Tokens:      res.Tokens,
		EmbedTokens: res.EmbedTokens,
		Elapsed:     elapsed,
	}); err != nil {
		return nodeOutcome{err: err}
	}
	e.instruments.RecordNode(ctx, string(n.Type), string(execution.StatusSuccess), elapsed.Seconds())
	e.instruments.RecordTokens(ctx, string(n.Type), res.Tokens+res.EmbedTokens)
	return nodeOutcome{handle: res.Handle, output: res.Output, executionID: id}
}

// handleFailure applies the node-local errorHandling policy.
func (e *Executor) handleFailure(cn *CompiledNode, state *State, id string, attempts int, err error) nodeOutcome {
	eh := cn.Common.ErrorHandling
	nerr := &NodeError{NodeKey: cn.Node.Key, NodeType: cn.Node.Type, Attempts: attempts, Err: err}
	var perr *panicError
	if errors.As(err, &perr) {
		nerr.Panic = true
	}
	if eh == nil {
		return nodeOutcome{executionID: id, err: nerr}
	}
	switch eh.Type {
	case ErrorHandlingDefaultValue:
		patch := eh.DefaultValue
		if len(patch) > 0 {
			if werr := state.Write(cn.Node.Key, patch); werr != nil {
				return nodeOutcome{executionID: id, err: werr}
			}
		}
		return nodeOutcome{executionID: id, output: patch}
	case ErrorHandlingFailBranch:
		patch := map[string]any{"error": err.Error()}
		if werr := state.Write(cn.Node.Key, patch); werr != nil {
			return nodeOutcome{executionID: id, err: werr}
		}
		return nodeOutcome{executionID: id, handle: HandleFail, output: patch}
	}
	return nodeOutcome{executionID: id, err: nerr}
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// invoke runs the executable with the node timeout and turns panics into
// errors.
func (e *Executor) invoke(ctx context.Context, cn *CompiledNode, nc *NodeContext) (res *Result, err error) {
	if cn.Unit == nil || cn.Unit.Execute == nil {
		return &Result{}, nil
	}
	timeout := e.nodeTimeout
	if cn.Common.Timeout > 0 {
		timeout = time.Duration(cn.Common.Timeout * float64(time.Second))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			pe := &panicError{value: r, stack: debug.Stack()}
			log.Errorf("graph: node %s panicked: %v\n%s", cn.Node.Key, r, pe.stack)
			res, err = nil, pe
		}
	}()
	return cn.Unit.Execute(ctx, nc)
}
