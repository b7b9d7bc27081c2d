// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/parser"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// execContext assembles the per-execution context from command params:
// timeout, parser override, optional budget.
func execContext(sessionName string, p Params) (*node.ExecContext, error) {
	b, err := p.Budget("budget")
	if err != nil {
		return nil, err
	}
	return &node.ExecContext{
		Session:        sessionName,
		Input:          p["input"],
		ParserOverride: p.StringOr("parser", ""),
		Timeout:        p.Seconds("timeout_seconds"),
		Budget:         b,
		Usage:          budget.NewUsage(nil),
		Cancel:         budget.NewCancelToken(),
		ExecID:         "exec-" + uuid.NewString(),
	}, nil
}

// runCommand executes one shell command through a throwaway bash node
// so the run carries full node event choreography and ephemeral
// cleanup.
func (e *Engine) runCommand(ctx context.Context, p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	command, err := p.String("command")
	if err != nil {
		return nil, err
	}

	id := "bash-" + uuid.NewString()[:8]
	var env map[string]string
	if m := p.Map("env"); len(m) > 0 {
		env = make(map[string]string, len(m))
		for k, v := range m {
			if str, ok := v.(string); ok {
				env[k] = str
			}
		}
	}
	n := node.NewBash(id, p.StringOr("cwd", ""), env)
	if err := s.AddNode(n, map[string]any{"command": command}); err != nil {
		return nil, err
	}

	ec, err := execContext(s.Name(), p)
	if err != nil {
		return nil, err
	}
	ec.Input = command
	out, err := s.ExecuteNode(ctx, id, ec)
	if err != nil {
		// Timeout and interrupt still captured partial output.
		if out != nil {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

// executeInput drives one node execution with the full context
// surface: parser override, timeout, budget.
func (e *Engine) executeInput(ctx context.Context, p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("node_id")
	if err != nil {
		return nil, err
	}
	if _, ok := p["input"]; !ok {
		return nil, protocol.NewError(protocol.KindInvalidInput, "missing required parameter \"input\"")
	}
	ec, err := execContext(s.Name(), p)
	if err != nil {
		return nil, err
	}
	out, err := s.ExecuteNode(ctx, id, ec)
	if err != nil {
		return nil, err
	}
	return executionResult(out, ec), nil
}

// executionResult shapes a node's output for transport, attaching the
// usage snapshot.
func executionResult(out any, ec *node.ExecContext) map[string]any {
	result := map[string]any{"usage": ec.Usage.Snapshot()}
	switch v := out.(type) {
	case *parser.Response:
		result["output"] = map[string]any{
			"text":        v.Text(),
			"sections":    v.Sections,
			"is_complete": v.IsComplete,
			"tokens":      v.Tokens,
		}
	default:
		result["output"] = out
	}
	return result
}

func (e *Engine) sendInterrupt(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("node_id")
	if err != nil {
		return nil, err
	}
	n, err := s.Node(id)
	if err != nil {
		return nil, err
	}
	if err := n.Interrupt(); err != nil {
		return nil, protocol.AsError(err)
	}
	return map[string]any{"node_id": id, "interrupted": true}, nil
}

// rawWriter is the raw-byte surface of terminal nodes.
type rawWriter interface {
	WriteRaw(data []byte) error
}

func (e *Engine) writeData(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("node_id")
	if err != nil {
		return nil, err
	}
	data, err := p.String("data")
	if err != nil {
		return nil, err
	}
	n, err := s.Node(id)
	if err != nil {
		return nil, err
	}
	w, ok := n.(rawWriter)
	if !ok {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "node %q does not accept raw writes", id)
	}
	if err := w.WriteRaw([]byte(data)); err != nil {
		return nil, protocol.AsError(err)
	}
	return map[string]any{"node_id": id, "written": len(data)}, nil
}

// bufferReader is the screen-content surface of terminal nodes.
type bufferReader interface {
	Buffer() string
	Tail(lines int) string
}

func (e *Engine) getBuffer(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("node_id")
	if err != nil {
		return nil, err
	}
	n, err := s.Node(id)
	if err != nil {
		return nil, err
	}
	r, ok := n.(bufferReader)
	if !ok {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "node %q has no buffer", id)
	}
	content := r.Buffer()
	if lines := p.Int("lines", 0); lines > 0 {
		content = r.Tail(lines)
	}
	return map[string]any{"node_id": id, "buffer": content}, nil
}

func (e *Engine) getHistory(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("node_id")
	if err != nil {
		return nil, err
	}
	if e.cfg.History == nil {
		return nil, protocol.NewError(protocol.KindInvalidState, "history persistence is disabled")
	}
	records, err := e.cfg.History.Tail(s.Name(), id, p.Int("lines", 50))
	if err != nil {
		return nil, protocol.AsError(err)
	}
	return map[string]any{"node_id": id, "records": records}, nil
}
