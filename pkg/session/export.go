// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"sort"

	"github.com/AgenticCurve/nerve-sub002/pkg/graph"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
)

// NodeSpec is the exportable description of a node: its identity plus
// the creation parameters recorded when it was added.
type NodeSpec struct {
	ID         string         `json:"id" mapstructure:"id"`
	Type       node.Type      `json:"type" mapstructure:"type"`
	Persistent bool           `json:"persistent" mapstructure:"persistent"`
	Params     map[string]any `json:"params,omitempty" mapstructure:"params"`
}

// Export is a portable session catalogue. Workflow bodies are code and
// travel by name only; importers re-register them before use.
type Export struct {
	Name      string       `json:"name" mapstructure:"name"`
	Nodes     []NodeSpec   `json:"nodes" mapstructure:"nodes"`
	Graphs    []graph.Spec `json:"graphs" mapstructure:"graphs"`
	Workflows []string     `json:"workflows" mapstructure:"workflows"`
}

// Export captures the session's nodes and graphs for round-tripping
// through EXPORT_SESSION / IMPORT_SESSION. The identity node is
// implicit and excluded.
func (s *Session) Export() *Export {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &Export{Name: s.name}

	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id == IdentityNodeID {
			continue
		}
		n := s.nodes[id]
		out.Nodes = append(out.Nodes, NodeSpec{
			ID:         n.ID(),
			Type:       n.Type(),
			Persistent: n.Persistent(),
			Params:     s.nodeSpecs[id],
		})
	}

	graphIDs := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		graphIDs = append(graphIDs, id)
	}
	sort.Strings(graphIDs)
	for _, id := range graphIDs {
		out.Graphs = append(out.Graphs, graph.Describe(s.graphs[id]))
	}

	wfIDs := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		wfIDs = append(wfIDs, id)
	}
	sort.Strings(wfIDs)
	out.Workflows = wfIDs
	return out
}

// ImportGraphs registers every graph of an export, skipping ids that
// already exist.
func (s *Session) ImportGraphs(ex *Export) (added int, err error) {
	for _, spec := range ex.Graphs {
		g, buildErr := spec.Build()
		if buildErr != nil {
			return added, buildErr
		}
		if _, lookupErr := s.Graph(g.ID); lookupErr == nil {
			continue
		}
		if addErr := s.AddGraph(g); addErr != nil {
			return added, addErr
		}
		added++
	}
	return added, nil
}
