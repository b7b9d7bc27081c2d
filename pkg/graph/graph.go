// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package graph models DAGs of node executions and runs them with
// bounded parallelism.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AgenticCurve/nerve-sub002/pkg/parser"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// InputKind tags how a step's input is produced.
type InputKind string

const (
	InputLiteral  InputKind = "literal"
	InputTemplate InputKind = "template"
	InputFunction InputKind = "function"
)

// InputSpec produces a step input from upstream results.
type InputSpec struct {
	Kind     InputKind
	Literal  any
	Template string
	Fn       func(upstream map[string]any) (any, error)
}

// Literal wraps a constant input.
func Literal(v any) InputSpec { return InputSpec{Kind: InputLiteral, Literal: v} }

// Template wraps a template referencing upstream outputs as {step_id}.
func Template(t string) InputSpec { return InputSpec{Kind: InputTemplate, Template: t} }

// Function wraps a pure function of the upstream-results mapping.
func Function(fn func(map[string]any) (any, error)) InputSpec {
	return InputSpec{Kind: InputFunction, Fn: fn}
}

// Resolve produces the concrete input for a step.
func (s InputSpec) Resolve(upstream map[string]any) (any, error) {
	switch s.Kind {
	case InputLiteral, "":
		return s.Literal, nil
	case InputTemplate:
		out := s.Template
		for id, result := range upstream {
			out = strings.ReplaceAll(out, "{"+id+"}", OutputText(result))
		}
		return out, nil
	case InputFunction:
		if s.Fn == nil {
			return nil, protocol.NewError(protocol.KindInvalidInput, "function input spec has no function")
		}
		return s.Fn(upstream)
	}
	return nil, protocol.Errorf(protocol.KindInvalidInput, "unknown input kind %q", s.Kind)
}

// OutputText flattens a step output for template substitution.
func OutputText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *parser.Response:
		return t.Text()
	case map[string]any:
		if s, ok := t["stdout"].(string); ok {
			return strings.TrimRight(s, "\n")
		}
		if s, ok := t["content"].(string); ok {
			return s
		}
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

// Step is one unit of a graph.
type Step struct {
	ID        string
	NodeRef   string
	Input     InputSpec
	DependsOn []string
}

// Graph is an ordered collection of steps forming a DAG.
type Graph struct {
	ID    string
	Steps []Step
}

// Validate checks dependency references and acyclicity. Node
// references resolve at execution time, not here.
func (g *Graph) Validate() error {
	ids := make(map[string]bool, len(g.Steps))
	for _, s := range g.Steps {
		if s.ID == "" {
			return protocol.NewError(protocol.KindInvalidInput, "step missing id")
		}
		if ids[s.ID] {
			return protocol.Errorf(protocol.KindInvalidInput, "duplicate step id %q", s.ID)
		}
		if s.NodeRef == "" {
			return protocol.Errorf(protocol.KindInvalidInput, "step %q missing node reference", s.ID)
		}
		ids[s.ID] = true
	}
	for _, s := range g.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return protocol.Errorf(protocol.KindInvalidInput,
					"step %q depends on unknown step %q", s.ID, dep)
			}
		}
	}
	if _, err := g.topoOrder(); err != nil {
		return err
	}
	return nil
}

// topoOrder returns a topological order of step ids (Kahn's
// algorithm), or a conflict error when the graph has a cycle.
func (g *Graph) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.Steps))
	dependents := make(map[string][]string, len(g.Steps))
	for _, s := range g.Steps {
		indegree[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	// Seed in declaration order for deterministic planning.
	for _, s := range g.Steps {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	order := make([]string, 0, len(g.Steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(g.Steps) {
		return nil, protocol.NewError(protocol.KindInvalidInput, "graph contains a cycle")
	}
	return order, nil
}

// Plan returns the topological execution order without running
// anything. Used by dry-run introspection.
func (g *Graph) Plan() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g.topoOrder()
}

// step looks up a step by id.
func (g *Graph) step(id string) *Step {
	for i := range g.Steps {
		if g.Steps[i].ID == id {
			return &g.Steps[i]
		}
	}
	return nil
}
