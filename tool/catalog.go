//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Catalog is a named collection of tools, grouped by toolset.
// Tool keys are "<toolset>/<tool name>".
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]Tool)}
}

// Register adds tools under toolset. A name already registered in the same
// toolset is an error.
func (c *Catalog) Register(toolset string, tools ...Tool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tools {
		key := toolset + "/" + t.Declaration().Name
		if _, ok := c.tools[key]; ok {
			return fmt.Errorf("tool: %s already registered", key)
		}
		c.tools[key] = t
	}
	return nil
}

// Get returns a tool by bare name, searching every toolset.
func (c *Catalog) Get(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, key := range c.sortedKeys() {
		if c.tools[key].Declaration().Name == name {
			return c.tools[key], true
		}
	}
	return nil, false
}

// Match returns the tools of toolset whose names match any of patterns,
// sorted by key. An empty pattern list selects the whole toolset.
func (c *Catalog) Match(toolset string, patterns []string) ([]Tool, error) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("tool: bad pattern %q", p)
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Tool
	for _, key := range c.sortedKeys() {
		t := c.tools[key]
		if !matchToolset(toolset, key) {
			continue
		}
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, t.Declaration().Name); ok {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func matchToolset(toolset, key string) bool {
	ok, _ := doublestar.Match(toolset+"/*", key)
	return ok
}

func (c *Catalog) sortedKeys() []string {
	keys := make([]string, 0, len(c.tools))
	for k := range c.tools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
