// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
	"github.com/AgenticCurve/nerve-sub002/pkg/graph"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// decodeGraphSpec reads the wire spec from params["graph"].
func decodeGraphSpec(p Params) (*graph.Spec, error) {
	var spec graph.Spec
	ok, err := p.Decode("graph", &spec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, protocol.NewError(protocol.KindInvalidInput, "missing required parameter \"graph\"")
	}
	return &spec, nil
}

func (e *Engine) createGraph(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	spec, err := decodeGraphSpec(p)
	if err != nil {
		return nil, err
	}
	g, err := spec.Build()
	if err != nil {
		return nil, err
	}
	if err := s.AddGraph(g); err != nil {
		return nil, err
	}
	return map[string]any{"graph_id": g.ID, "steps": len(g.Steps)}, nil
}

func (e *Engine) deleteGraph(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("graph_id")
	if err != nil {
		return nil, err
	}
	if err := s.RemoveGraph(id); err != nil {
		return nil, err
	}
	return map[string]any{"graph_id": id, "deleted": true}, nil
}

func (e *Engine) listGraphs(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"graphs": s.Graphs()}, nil
}

// executeGraph runs a registered graph to completion and returns the
// per-step results with the usage snapshot and step traces.
func (e *Engine) executeGraph(ctx context.Context, p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("graph_id")
	if err != nil {
		return nil, err
	}
	b, err := p.Budget("budget")
	if err != nil {
		return nil, err
	}

	trace := node.NewTrace()
	ec := &node.ExecContext{
		Session: s.Name(),
		Input:   p["input"],
		Timeout: p.Seconds("timeout_seconds"),
		Budget:  b,
		Usage:   budget.NewUsage(nil),
		Cancel:  budget.NewCancelToken(),
		Trace:   trace,
		ExecID:  "exec-" + uuid.NewString(),
	}

	results, err := s.ExecuteGraph(ctx, id, ec)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"graph_id": id,
		"results":  results,
		"usage":    ec.Usage.Snapshot(),
		"trace":    trace.Steps(),
	}, nil
}
