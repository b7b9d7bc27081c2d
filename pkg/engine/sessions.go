// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
	"github.com/AgenticCurve/nerve-sub002/pkg/session"
)

func (e *Engine) createSession(p Params) (any, error) {
	name, err := p.String("name")
	if err != nil {
		return nil, err
	}
	s, err := e.registry.Create(name)
	if err != nil {
		return nil, err
	}
	e.seedWorkflows(s)
	return map[string]any{"session": s.Name()}, nil
}

func (e *Engine) deleteSession(p Params) (any, error) {
	name, err := p.String("name")
	if err != nil {
		return nil, err
	}
	s, err := e.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	// Proxies are keyed per node; tear them down before the nodes go.
	for _, n := range s.Nodes() {
		_ = e.proxies.Stop(proxyKey(s.Name(), n.ID()))
	}
	if err := e.registry.Delete(name); err != nil {
		return nil, err
	}
	return map[string]any{"session": name, "deleted": true}, nil
}

func (e *Engine) listSessions(Params) (any, error) {
	sessions := e.registry.List()
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		names = append(names, s.Name())
	}
	return map[string]any{"sessions": names}, nil
}

func (e *Engine) getSession(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	return s.Describe(), nil
}

func (e *Engine) exportSession(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	return s.Export(), nil
}

// importSession rebuilds exported nodes and graphs inside the target
// session. Existing ids are skipped rather than overwritten; node
// rebuild failures are reported but do not abort the rest.
func (e *Engine) importSession(ctx context.Context, p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	var ex session.Export
	ok, err := p.Decode("export", &ex)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, protocol.NewError(protocol.KindInvalidInput, "missing required parameter \"export\"")
	}

	nodesAdded := 0
	var skipped []string
	for _, spec := range ex.Nodes {
		if spec.ID == session.IdentityNodeID {
			continue
		}
		if _, lookupErr := s.Node(spec.ID); lookupErr == nil {
			skipped = append(skipped, spec.ID)
			continue
		}
		if _, buildErr := e.buildAndAddNode(ctx, s, spec.ID, string(spec.Type), spec.Params); buildErr != nil {
			skipped = append(skipped, spec.ID)
			e.cfg.Logger.Warn("import skipped node",
				zap.String("node", spec.ID), zap.Error(buildErr))
			continue
		}
		nodesAdded++
	}

	graphsAdded, err := s.ImportGraphs(&ex)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"nodes_added":  nodesAdded,
		"graphs_added": graphsAdded,
		"skipped":      skipped,
	}, nil
}
