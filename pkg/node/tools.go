// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ToolDefinition describes one callable tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	OwnerNodeID string         `json:"owner_node_id,omitempty"`
}

// DefaultMaxToolResult caps tool result size before truncation.
const DefaultMaxToolResult = 50_000

// Catalog composes the tools of a set of tool-capable nodes. Each
// contributed tool is namespaced as "<owner-id>.<tool-name>" so names
// never collide across owners.
type Catalog struct {
	maxResult int

	mu     sync.Mutex
	owners map[string]ToolCapable // prefixed tool name → owner
	defs   []ToolDefinition
}

// NewCatalog creates an empty catalog. maxResult ≤ 0 uses the default.
func NewCatalog(maxResult int) *Catalog {
	if maxResult <= 0 {
		maxResult = DefaultMaxToolResult
	}
	return &Catalog{maxResult: maxResult, owners: map[string]ToolCapable{}}
}

// Mount adds every tool of a tool-capable node under its id prefix.
func (c *Catalog) Mount(ctx context.Context, ownerID string, tc ToolCapable) error {
	tools, err := tc.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("listing tools of %s: %w", ownerID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, def := range tools {
		prefixed := ownerID + "." + def.Name
		if _, exists := c.owners[prefixed]; exists {
			continue // first mount wins
		}
		c.owners[prefixed] = tc
		c.defs = append(c.defs, ToolDefinition{
			Name:        prefixed,
			Description: def.Description,
			Parameters:  def.Parameters,
			OwnerNodeID: ownerID,
		})
	}
	return nil
}

// Definitions returns the namespaced tool list.
func (c *Catalog) Definitions() []ToolDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Call dispatches a prefixed tool name. Unknown names yield a
// diagnostic string, not an error, so the model can recover. Results
// over the size cap are truncated with an original-length marker.
func (c *Catalog) Call(ctx context.Context, name string, args map[string]any) string {
	c.mu.Lock()
	owner, ok := c.owners[name]
	var available []string
	if !ok {
		available = c.names()
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Sprintf("error: unknown tool %q; available tools: %s",
			name, strings.Join(available, ", "))
	}

	// Strip the owner prefix back off for the owning node.
	bare := name
	if idx := strings.Index(name, "."); idx >= 0 {
		bare = name[idx+1:]
	}

	result, err := owner.CallTool(ctx, bare, args)
	if err != nil {
		return fmt.Sprintf("error calling tool %q: %v", name, err)
	}
	return c.truncate(result)
}

func (c *Catalog) names() []string {
	names := make([]string, 0, len(c.owners))
	for name := range c.owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) truncate(s string) string {
	if len(s) <= c.maxResult {
		return s
	}
	return fmt.Sprintf("%s\n... [truncated, original length %d bytes]", s[:c.maxResult], len(s))
}
