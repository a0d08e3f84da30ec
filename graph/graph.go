//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graph compiles declarative workflow graphs and executes them
// against per-run channel state.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NodeType is the closed set of node tags.
type NodeType string

// Node types.
const (
	NodeTypeAgent              NodeType = "agent"
	NodeTypeToolset            NodeType = "toolset"
	NodeTypeKnowledge          NodeType = "knowledge"
	NodeTypeTrigger            NodeType = "trigger"
	NodeTypeIfElse             NodeType = "ifElse"
	NodeTypeIterator           NodeType = "iterator"
	NodeTypeCode               NodeType = "code"
	NodeTypeHTTP               NodeType = "http"
	NodeTypeClassifier         NodeType = "classifier"
	NodeTypeAssigner           NodeType = "assigner"
	NodeTypeTool               NodeType = "tool"
	NodeTypeSubflow            NodeType = "subflow"
	NodeTypeTemplate           NodeType = "template"
	NodeTypeVariableAggregator NodeType = "variableAggregator"
	NodeTypeListOperator       NodeType = "listOperator"
	NodeTypeKnowledgeBase      NodeType = "knowledgeBase"
	NodeTypeNote               NodeType = "note"
	NodeTypeAnswer             NodeType = "answer"
)

var nodeTypes = map[NodeType]struct{}{
	NodeTypeAgent: {}, NodeTypeToolset: {}, NodeTypeKnowledge: {}, NodeTypeTrigger: {},
	NodeTypeIfElse: {}, NodeTypeIterator: {}, NodeTypeCode: {}, NodeTypeHTTP: {},
	NodeTypeClassifier: {}, NodeTypeAssigner: {}, NodeTypeTool: {}, NodeTypeSubflow: {},
	NodeTypeTemplate: {}, NodeTypeVariableAggregator: {}, NodeTypeListOperator: {},
	NodeTypeKnowledgeBase: {}, NodeTypeNote: {}, NodeTypeAnswer: {},
}

// Valid reports whether t is one of the known tags.
func (t NodeType) Valid() bool {
	_, ok := nodeTypes[t]
	return ok
}

// Group reports whether nodes of this type own a nested subgraph.
func (t NodeType) Group() bool { return t == NodeTypeIterator }

// UnmarshalText rejects unknown tags while decoding.
func (t *NodeType) UnmarshalText(b []byte) error {
	v := NodeType(b)
	if !v.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNodeType, string(b))
	}
	*t = v
	return nil
}

// ConnectionType tags a connection.
type ConnectionType string

// Connection types.
const (
	ConnectionEdge    ConnectionType = "edge"
	ConnectionAgent   ConnectionType = "agent"
	ConnectionToolset ConnectionType = "toolset"
	ConnectionXpert   ConnectionType = "xpert"
)

// ControlFlow reports whether the connection passes control.
func (c ConnectionType) ControlFlow() bool {
	return c == ConnectionEdge || c == ConnectionAgent || c == ""
}

// Handles every branching node may use.
const (
	HandleDefault = ""
	HandleElse    = "else"
	HandleFail    = "fail"
)

// SysChannel is seeded from run inputs.
const SysChannel = "sys"

// Node is one vertex of a graph.
type Node struct {
	Key      string   `json:"key"`
	Type     NodeType `json:"type"`
	Title    string   `json:"title,omitempty"`
	ParentID string   `json:"parentId,omitempty"`
	// Entity is the type specific configuration.
	Entity json.RawMessage `json:"entity,omitempty"`
}

// Name returns the title when set, the key otherwise.
func (n *Node) Name() string {
	if n.Title != "" {
		return n.Title
	}
	return n.Key
}

// DecodeEntity unmarshals the entity into v. An empty entity leaves v as is.
func (n *Node) DecodeEntity(v any) error {
	if len(n.Entity) == 0 || string(n.Entity) == "null" {
		return nil
	}
	if err := json.Unmarshal(n.Entity, v); err != nil {
		return fmt.Errorf("node %s: decode %s entity: %w", n.Key, n.Type, err)
	}
	return nil
}

// ErrorHandlingType selects what happens when a node fails.
type ErrorHandlingType string

// Error handling types.
const (
	ErrorHandlingDefaultValue ErrorHandlingType = "default-value"
	ErrorHandlingFailBranch   ErrorHandlingType = "fail-branch"
)

// ErrorHandling is the node-local failure policy.
type ErrorHandling struct {
	Type         ErrorHandlingType `json:"type"`
	DefaultValue map[string]any    `json:"defaultValue,omitempty"`
}

// RetryConfig is the retry block of http and code entities.
type RetryConfig struct {
	Enabled          bool `json:"enabled"`
	StopAfterAttempt int  `json:"stopAfterAttempt,omitempty"`
	// RetryInterval is in seconds.
	RetryInterval float64 `json:"retryInterval,omitempty"`
	BackoffFactor float64 `json:"backoffFactor,omitempty"`
}

// Policy converts the entity block to a RetryPolicy.
func (c *RetryConfig) Policy() RetryPolicy {
	if c == nil || !c.Enabled {
		return RetryPolicy{MaxAttempts: 1}
	}
	attempts := c.StopAfterAttempt
	if attempts < 1 {
		attempts = 1
	}
	interval := time.Duration(c.RetryInterval * float64(time.Second))
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: interval,
		BackoffFactor:   c.BackoffFactor,
		MaxInterval:     interval * 8,
		RetryOn:         []RetryCondition{RetryOnPredicate(func(error) bool { return true })},
	}
}

// Common holds the entity fields the executor reads for every node.
type Common struct {
	ErrorHandling *ErrorHandling `json:"errorHandling,omitempty"`
	Retry         *RetryConfig   `json:"retry,omitempty"`
	// Timeout is in seconds; zero disables it.
	Timeout float64 `json:"timeout,omitempty"`
}

// Common decodes the shared entity fields.
func (n *Node) Common() (Common, error) {
	var c Common
	err := n.DecodeEntity(&c)
	return c, err
}

// Connection links two nodes.
type Connection struct {
	Key      string         `json:"key,omitempty"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Type     ConnectionType `json:"type,omitempty"`
	Readonly bool           `json:"readonly,omitempty"`
}

// Source splits From into the node key and the optional handle.
func (c *Connection) Source() (string, string) {
	key, handle, _ := strings.Cut(c.From, "/")
	return key, handle
}

// Graph is the declarative workflow.
type Graph struct {
	ID            string        `json:"id,omitempty"`
	Nodes         []*Node       `json:"nodes"`
	Connections   []*Connection `json:"connections"`
	StartNodeKeys []string      `json:"startNodeKeys"`
}

// Node returns the node with key.
func (g *Graph) Node(key string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n.Key == key {
			return n, true
		}
	}
	return nil, false
}

// ParamType is the type of a declared output variable.
type ParamType string

// Parameter types. ParamAny accepts any deeper path.
const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
	ParamAny     ParamType = "any"
)

// Parameter describes one selectable output variable.
type Parameter struct {
	Name        string      `json:"name"`
	Type        ParamType   `json:"type"`
	Description string      `json:"description,omitempty"`
	Children    []Parameter `json:"children,omitempty"`
}

// Resolves reports whether path selects something inside params.
func Resolves(params []Parameter, path []string) bool {
	if len(path) == 0 {
		return true
	}
	for _, p := range params {
		if p.Name != path[0] {
			continue
		}
		rest := path[1:]
		if len(rest) == 0 {
			return true
		}
		switch p.Type {
		case ParamAny, ParamArray:
			return true
		case ParamObject:
			if len(p.Children) == 0 {
				return true
			}
			return Resolves(p.Children, rest)
		default:
			return false
		}
	}
	return false
}
