//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"github.com/xpert-ai/xpert-sub002/tool"
)

// Role is the author of a message.
type Role string

// Roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolID    string     `json:"tool_id,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates the message answering tool call id.
func NewToolMessage(id, name, content string) Message {
	return Message{Role: RoleTool, ToolID: id, ToolName: name, Content: content}
}

// GenerationConfig holds sampling parameters.
type GenerationConfig struct {
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream"`
	Stop        []string `json:"stop,omitempty"`
}

// Request is the input of Model.GenerateContent.
type Request struct {
	Messages         []Message `json:"messages"`
	GenerationConfig `json:",inline"`
	// Tools are offered to the model by name.
	Tools map[string]tool.Tool `json:"-"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	Type     string                  `json:"type"`
	Function FunctionDefinitionParam `json:"function,omitempty"`
	ID       string                  `json:"id,omitempty"`
}

// FunctionDefinitionParam names the function and carries its JSON arguments.
type FunctionDefinitionParam struct {
	Name      string `json:"name"`
	Arguments []byte `json:"arguments,omitempty"`
}
