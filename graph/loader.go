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
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Decode parses a JSON graph. Unknown node types fail here.
func Decode(data []byte) (*Graph, error) {
	var g Graph
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// DecodeYAML parses a YAML graph by way of its JSON form.
func DecodeYAML(data []byte) (*Graph, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode graph yaml: %w", err)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode graph yaml: %w", err)
	}
	return Decode(b)
}

// Validate checks the structure that does not depend on strategies: unique
// keys, valid tags and group parents.
func (g *Graph) Validate() error {
	keys := make(map[string]*Node, len(g.Nodes))
	for i, n := range g.Nodes {
		if n == nil || n.Key == "" {
			return fmt.Errorf("%w: node %d has no key", ErrInvalidGraph, i)
		}
		if !n.Type.Valid() {
			return fmt.Errorf("%w: node %s: %q", ErrUnknownNodeType, n.Key, n.Type)
		}
		if _, dup := keys[n.Key]; dup {
			return fmt.Errorf("%w: duplicate node key %s", ErrInvalidGraph, n.Key)
		}
		if n.Key == SysChannel {
			return fmt.Errorf("%w: node key %s is reserved", ErrInvalidGraph, n.Key)
		}
		keys[n.Key] = n
	}
	for _, n := range g.Nodes {
		if n.ParentID == "" {
			continue
		}
		p, ok := keys[n.ParentID]
		if !ok || !p.Type.Group() {
			return fmt.Errorf("%w: node %s has parent %s which is not a group node", ErrInvalidGraph, n.Key, n.ParentID)
		}
	}
	return nil
}
