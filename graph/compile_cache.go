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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
)

// DefaultCompileCacheSize bounds the number of cached graphs.
const DefaultCompileCacheSize = 256

// CompileCache keeps compiled graphs by content hash, evicting the oldest
// entry when full.
type CompileCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*CompiledGraph
	order   []string
}

// NewCompileCache creates a cache holding up to max graphs.
func NewCompileCache(max int) *CompileCache {
	if max <= 0 {
		max = DefaultCompileCacheSize
	}
	return &CompileCache{max: max, entries: make(map[string]*CompiledGraph)}
}

// Get returns the cached graph for hash.
func (c *CompileCache) Get(hash string) (*CompiledGraph, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cg, ok := c.entries[hash]
	return cg, ok
}

// Put stores cg under hash.
func (c *CompileCache) Put(hash string, cg *CompiledGraph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[hash]; ok {
		c.entries[hash] = cg
		return
	}
	for len(c.order) >= c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[hash] = cg
	c.order = append(c.order, hash)
}

// Len returns the number of cached graphs.
func (c *CompileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ContentHash returns the blake3 hash of the canonical JSON of g. Node and
// connection order does not change the hash.
func ContentHash(g *Graph) (string, error) {
	type canonicalNode struct {
		Key      string   `json:"key"`
		Type     NodeType `json:"type"`
		Title    string   `json:"title,omitempty"`
		ParentID string   `json:"parentId,omitempty"`
		Entity   any      `json:"entity,omitempty"`
	}
	nodes := make([]canonicalNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		cn := canonicalNode{Key: n.Key, Type: n.Type, Title: n.Title, ParentID: n.ParentID}
		if len(n.Entity) > 0 {
			if err := json.Unmarshal(n.Entity, &cn.Entity); err != nil {
				return "", fmt.Errorf("hash node %s: %w", n.Key, err)
			}
		}
		nodes = append(nodes, cn)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })

	conns := make([]Connection, 0, len(g.Connections))
	for _, c := range g.Connections {
		if c != nil {
			conns = append(conns, *c)
		}
	}
	sort.Slice(conns, func(i, j int) bool {
		a, b := conns[i], conns[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Key < b.Key
	})
	starts := append([]string(nil), g.StartNodeKeys...)
	sort.Strings(starts)

	b, err := json.Marshal(struct {
		Nodes       []canonicalNode `json:"nodes"`
		Connections []Connection    `json:"connections"`
		Start       []string        `json:"startNodeKeys"`
	}{nodes, conns, starts})
	if err != nil {
		return "", fmt.Errorf("hash graph: %w", err)
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
