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
	"encoding/json"
	"fmt"

	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/log"
	"github.com/xpert-ai/xpert-sub002/model"
	"github.com/xpert-ai/xpert-sub002/tool"
)

// DefaultMaxIterations bounds the model and tool round trips of an agent.
const DefaultMaxIterations = 10

const (
	defaultAgentInput = "{{sys.input}}"
	rejectedByUser    = "The user rejected this tool call."
)

type agentEntity struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt,omitempty"`
	// Input is the user message template.
	Input         string   `json:"input,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"maxTokens,omitempty"`
}

// agentStrategy drives a model through tool calls until it answers.
// Tools come from attached toolset and knowledge capabilities and from
// catalog names listed in the entity.
type agentStrategy struct {
	deps Deps
}

type agent struct {
	ent   *agentEntity
	model model.Model
	tools map[string]tool.CallableTool
}

func (s *agentStrategy) Compile(_ context.Context, n *graph.Node, cc *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[agentEntity](n)
	if err != nil {
		return nil, err
	}
	if ent.Input == "" {
		ent.Input = defaultAgentInput
	}
	if ent.MaxIterations <= 0 {
		ent.MaxIterations = DefaultMaxIterations
	}
	m, err := resolveModel(s.deps.Models, ent.Model)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", n.Key, err)
	}
	a := &agent{ent: ent, model: m, tools: make(map[string]tool.CallableTool)}
	add := func(t tool.CallableTool) error {
		name := t.Declaration().Name
		if _, dup := a.tools[name]; dup {
			return fmt.Errorf("agent %s: tool %s attached twice", n.Key, name)
		}
		a.tools[name] = t
		return nil
	}
	for _, name := range ent.Tools {
		t, err := (&toolStrategy{catalog: s.deps.Tools}).lookup(&toolEntity{Tool: name})
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", n.Key, err)
		}
		if err := add(t); err != nil {
			return nil, err
		}
	}
	for _, c := range cc.Capabilities {
		switch c.Type {
		case graph.NodeTypeToolset:
			tools, err := toolsetTools(s.deps.Tools, c)
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", n.Key, err)
			}
			for _, t := range tools {
				if err := add(t); err != nil {
					return nil, err
				}
			}
		case graph.NodeTypeKnowledge:
			t, err := newRetrieverTool(s.deps.Knowledge, c)
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", n.Key, err)
			}
			if err := add(t); err != nil {
				return nil, err
			}
		default:
			log.Debugf("nodes: agent %s ignores %s capability %s", n.Key, c.Type, c.Key)
		}
	}
	return &graph.Unit{Execute: a.execute}, nil
}

func (a *agent) request(messages []model.Message) *model.Request {
	req := &model.Request{Messages: messages}
	req.Stream = true
	req.Temperature = a.ent.Temperature
	req.MaxTokens = a.ent.MaxTokens
	if len(a.tools) > 0 {
		req.Tools = make(map[string]tool.Tool, len(a.tools))
		for name, t := range a.tools {
			req.Tools[name] = t
		}
	}
	return req
}

func (a *agent) execute(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
	var (
		messages []model.Message
		tokens   int64
	)
	if approval, ok := nc.Resumption(); ok {
		restored, err := restoreMessages(approval.Operation)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", nc.Node.Key, err)
		}
		messages = restored
		if approval.Rejected {
			for _, e := range approval.Operation.ToolCalls {
				messages = append(messages, model.NewToolMessage(e.Call.ID, e.Call.Name, rejectedByUser))
			}
		} else {
			messages = syncToolCalls(messages, approval.Operation.ToolCalls)
			messages = append(messages, a.runTools(ctx, nc, entriesToCalls(approval.Operation.ToolCalls))...)
		}
	} else {
		if prompt := nc.Render(a.ent.Prompt); prompt != "" {
			messages = append(messages, model.NewSystemMessage(prompt))
		}
		messages = append(messages, model.NewUserMessage(nc.Render(a.ent.Input)))
	}

	for i := 0; i < a.ent.MaxIterations; i++ {
		g, err := generate(ctx, a.model, a.request(messages), func(delta string) {
			nc.EmitMessage(ctx, delta)
		})
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", nc.Node.Key, err)
		}
		tokens += g.tokens
		if !g.streamed && g.message.Content != "" {
			nc.EmitMessage(ctx, g.message.Content)
		}
		messages = append(messages, g.message)
		if len(g.message.ToolCalls) == 0 {
			patch := map[string]any{"output": g.message.Content}
			return &graph.Result{Patch: patch, Output: g.message.Content, Tokens: tokens}, nil
		}
		calls := toExecutionCalls(g.message.ToolCalls)
		if a.sensitive(nc, calls) {
			// tokens spent so far would be lost with the suspended attempt
			if err := nc.Run.Tracker.AddTokens(ctx, nc.ExecutionID, tokens, 0); err != nil {
				log.Warnf("nodes: agent %s: record tokens: %v", nc.Node.Key, err)
			}
			raw, err := json.Marshal(messages)
			if err != nil {
				return nil, fmt.Errorf("agent %s: encode messages: %w", nc.Node.Key, err)
			}
			entries := make([]execution.ToolCallEntry, len(calls))
			for j, c := range calls {
				entries[j] = execution.ToolCallEntry{Call: c}
			}
			_, err = nc.Confirm(&execution.Operation{NodeKey: nc.Node.Key, ToolCalls: entries, Messages: raw})
			return nil, err
		}
		messages = append(messages, a.runTools(ctx, nc, calls)...)
	}
	return nil, fmt.Errorf("agent %s: no answer after %d iterations", nc.Node.Key, a.ent.MaxIterations)
}

func (a *agent) sensitive(nc *graph.NodeContext, calls []execution.ToolCall) bool {
	if nc.Sensitive(nc.Node.Key) {
		return true
	}
	for _, c := range calls {
		if nc.Sensitive(c.Name) {
			return true
		}
	}
	return false
}

// runTools executes calls in order. Failures are reported to the model
// rather than failing the node.
func (a *agent) runTools(ctx context.Context, nc *graph.NodeContext, calls []execution.ToolCall) []model.Message {
	out := make([]model.Message, 0, len(calls))
	for _, c := range calls {
		t, ok := a.tools[c.Name]
		if !ok {
			out = append(out, model.NewToolMessage(c.ID, c.Name, fmt.Sprintf("error: tool %s is not available", c.Name)))
			continue
		}
		res, err := invokeTool(ctx, nc, t, c)
		if err != nil {
			out = append(out, model.NewToolMessage(c.ID, c.Name, "error: "+err.Error()))
			continue
		}
		out = append(out, model.NewToolMessage(c.ID, c.Name, graph.Stringify(res)))
	}
	return out
}

func toExecutionCalls(calls []model.ToolCall) []execution.ToolCall {
	out := make([]execution.ToolCall, 0, len(calls))
	for _, c := range calls {
		var args map[string]any
		if len(c.Function.Arguments) > 0 {
			if err := json.Unmarshal(c.Function.Arguments, &args); err != nil {
				args = map[string]any{"_raw": string(c.Function.Arguments)}
			}
		}
		out = append(out, execution.ToolCall{ID: c.ID, Name: c.Function.Name, Args: args})
	}
	return out
}

func entriesToCalls(entries []execution.ToolCallEntry) []execution.ToolCall {
	out := make([]execution.ToolCall, len(entries))
	for i, e := range entries {
		out[i] = e.Call
	}
	return out
}

func restoreMessages(op *execution.Operation) ([]model.Message, error) {
	if op == nil || len(op.Messages) == 0 {
		return nil, fmt.Errorf("resume without stored messages")
	}
	var msgs []model.Message
	if err := json.Unmarshal(op.Messages, &msgs); err != nil {
		return nil, fmt.Errorf("decode stored messages: %w", err)
	}
	return msgs, nil
}

// syncToolCalls rewrites the arguments of the pending assistant message so
// the conversation shows the calls that actually ran.
func syncToolCalls(msgs []model.Message, approved []execution.ToolCallEntry) []model.Message {
	if len(msgs) == 0 {
		return msgs
	}
	last := &msgs[len(msgs)-1]
	if last.Role != model.RoleAssistant || len(last.ToolCalls) == 0 {
		return msgs
	}
	byID := make(map[string]execution.ToolCall, len(approved))
	for _, e := range approved {
		byID[e.Call.ID] = e.Call
	}
	for i, tc := range last.ToolCalls {
		if c, ok := byID[tc.ID]; ok {
			if b, err := json.Marshal(c.Args); err == nil {
				last.ToolCalls[i].Function.Arguments = b
			}
		}
	}
	return msgs
}

func (s *agentStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{{Name: "output", Type: graph.ParamString}}, nil
}

