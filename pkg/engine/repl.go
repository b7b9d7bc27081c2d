// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"github.com/AgenticCurve/nerve-sub002/pkg/graph"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// replShow describes one target by id: a node, a graph or a run.
func (e *Engine) replShow(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	target, err := p.String("target")
	if err != nil {
		return nil, err
	}

	if n, nodeErr := s.Node(target); nodeErr == nil {
		return map[string]any{
			"kind":       "node",
			"node_id":    n.ID(),
			"type":       string(n.Type()),
			"state":      string(n.State()),
			"persistent": n.Persistent(),
			"spec":       s.NodeSpec(target),
		}, nil
	}
	if g, graphErr := s.Graph(target); graphErr == nil {
		return map[string]any{
			"kind":  "graph",
			"graph": graph.Describe(g),
		}, nil
	}
	if run, runErr := s.Run(target); runErr == nil {
		return map[string]any{
			"kind": "run",
			"run":  run.Info(),
		}, nil
	}
	return nil, protocol.Errorf(protocol.KindNotFound,
		"no node, graph or run %q in session %q", target, s.Name())
}

// replDry plans a graph without executing anything.
func (e *Engine) replDry(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("graph_id")
	if err != nil {
		return nil, err
	}
	g, err := s.Graph(id)
	if err != nil {
		return nil, err
	}
	order, err := g.Plan()
	if err != nil {
		return nil, err
	}

	// Surface unresolvable node references now instead of at run time.
	var unresolved []string
	for _, step := range g.Steps {
		if s.Kind(step.NodeRef) != "node" {
			unresolved = append(unresolved, step.NodeRef)
		}
	}
	return map[string]any{
		"graph_id":   id,
		"order":      order,
		"steps":      graph.Describe(g).Steps,
		"unresolved": unresolved,
	}, nil
}

// replValidate checks a wire graph spec without registering it.
func (e *Engine) replValidate(p Params) (any, error) {
	spec, err := decodeGraphSpec(p)
	if err != nil {
		return nil, err
	}
	if _, err := spec.Build(); err != nil {
		return map[string]any{
			"valid": false,
			"error": protocol.AsError(err),
		}, nil
	}
	return map[string]any{"valid": true}, nil
}

// replList is the full session catalogue.
func (e *Engine) replList(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	return s.Describe(), nil
}
