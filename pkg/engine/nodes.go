// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"
	"time"

	"github.com/AgenticCurve/nerve-sub002/pkg/llm/anthropic"
	"github.com/AgenticCurve/nerve-sub002/pkg/mcp"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/parser"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
	"github.com/AgenticCurve/nerve-sub002/pkg/proxy"
	"github.com/AgenticCurve/nerve-sub002/pkg/session"
	"github.com/AgenticCurve/nerve-sub002/pkg/terminal"
)

// proxyKey scopes proxy instances: one session cannot collide with
// another session's node of the same name.
func proxyKey(sessionName, nodeID string) string {
	return sessionName + "/" + nodeID
}

// terminalSpec is the wire shape of terminal node params.
type terminalSpec struct {
	Command        string                `mapstructure:"command"`
	Args           []string              `mapstructure:"args"`
	Cwd            string                `mapstructure:"cwd"`
	Env            map[string]string     `mapstructure:"env"`
	Rows           uint16                `mapstructure:"rows"`
	Cols           uint16                `mapstructure:"cols"`
	Parser         string                `mapstructure:"parser"`
	PaneID         string                `mapstructure:"pane_id"`
	TimeoutSeconds float64               `mapstructure:"timeout_seconds"`
	Provider       *proxy.ProviderConfig `mapstructure:"provider"`
}

// llmSpec is the wire shape of llm-single-shot and llm-chat params.
type llmSpec struct {
	Model             string   `mapstructure:"model"`
	System            string   `mapstructure:"system"`
	APIKey            string   `mapstructure:"api_key"`
	BaseURL           string   `mapstructure:"base_url"`
	MaxTokens         int      `mapstructure:"max_tokens"`
	MaxToolRounds     int      `mapstructure:"max_tool_rounds"`
	ParallelToolCalls bool     `mapstructure:"parallel_tool_calls"`
	Tools             []string `mapstructure:"tools"`
}

// mcpSpec is the wire shape of mcp node params.
type mcpSpec struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Cwd     string            `mapstructure:"cwd"`
}

// bashSpec is the wire shape of bash node params.
type bashSpec struct {
	Cwd string            `mapstructure:"cwd"`
	Env map[string]string `mapstructure:"env"`
}

func (e *Engine) createNode(ctx context.Context, p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("node_id")
	if err != nil {
		return nil, err
	}
	typ, err := p.String("node_type")
	if err != nil {
		return nil, err
	}
	n, err := e.buildAndAddNode(ctx, s, id, typ, p.Map("params"))
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"node_id":    n.ID(),
		"type":       string(n.Type()),
		"state":      string(n.State()),
		"persistent": n.Persistent(),
	}
	if inst, proxyErr := e.proxies.Get(proxyKey(s.Name(), n.ID())); proxyErr == nil {
		out["proxy_url"] = inst.URL
	}
	return out, nil
}

// buildAndAddNode constructs a node from its wire spec, registers it
// with the session and emits NODE_CREATED. Any failure after a proxy
// was started tears the proxy down again.
func (e *Engine) buildAndAddNode(ctx context.Context, s *session.Session, id, typ string, spec map[string]any) (node.Node, error) {
	if err := node.ValidateName(id); err != nil {
		return nil, err
	}
	if id == session.IdentityNodeID {
		return nil, protocol.Errorf(protocol.KindConflict, "node id %q is reserved", id)
	}

	var (
		n        node.Node
		proxied  bool
		buildErr error
	)
	switch node.Type(typ) {
	case node.TypeTerminalPTY, node.TypeTerminalAttached:
		n, proxied, buildErr = e.buildTerminalNode(s, id, node.Type(typ), spec)
	case node.TypeBash:
		var bs bashSpec
		if err := decodeInto(spec, &bs); err != nil {
			return nil, protocol.Errorf(protocol.KindInvalidInput, "bash params: %v", err)
		}
		n = node.NewBash(id, bs.Cwd, bs.Env)
	case node.TypeLLM:
		var ls llmSpec
		if err := decodeInto(spec, &ls); err != nil {
			return nil, protocol.Errorf(protocol.KindInvalidInput, "llm params: %v", err)
		}
		n = node.NewLLM(id, newLLMClient(ls), ls.System)
	case node.TypeChat:
		n, buildErr = e.buildChatNode(ctx, s, id, spec)
	case node.TypeMCP:
		n, buildErr = e.buildMCPNode(ctx, id, spec)
	case node.TypeFunction, node.TypeIdentity:
		return nil, protocol.Errorf(protocol.KindInvalidInput,
			"%s nodes are registered programmatically, not by command", typ)
	default:
		return nil, protocol.Errorf(protocol.KindInvalidInput, "unknown node type %q", typ)
	}
	if buildErr != nil {
		return nil, buildErr
	}

	if err := s.AddNode(n, spec); err != nil {
		_ = n.Stop()
		if proxied {
			_ = e.proxies.Stop(proxyKey(s.Name(), id))
		}
		return nil, err
	}
	e.cfg.Events.Emit(protocol.NewEvent(protocol.EventNodeCreated, id, "", map[string]any{
		"session": s.Name(),
		"type":    typ,
	}))
	return n, nil
}

// buildTerminalNode spawns or attaches a terminal backend. A provider
// spec first gets its loopback proxy; the proxy URL is injected into
// the child's environment so the assistant process talks through it.
func (e *Engine) buildTerminalNode(s *session.Session, id string, typ node.Type, spec map[string]any) (node.Node, bool, error) {
	var ts terminalSpec
	if err := decodeInto(spec, &ts); err != nil {
		return nil, false, protocol.Errorf(protocol.KindInvalidInput, "terminal params: %v", err)
	}

	cfg := e.cfg.Terminal
	cfg.History = e.cfg.History
	cfg.Logger = e.cfg.Logger
	if ts.Parser != "" {
		pr, err := parser.ByName(ts.Parser)
		if err != nil {
			return nil, false, protocol.AsError(err)
		}
		cfg.Parser = pr
	}
	if ts.TimeoutSeconds > 0 {
		cfg.DefaultTimeout = time.Duration(ts.TimeoutSeconds * float64(time.Second))
	}

	var backend terminal.Backend
	switch typ {
	case node.TypeTerminalPTY:
		if ts.Command == "" {
			return nil, false, protocol.NewError(protocol.KindInvalidInput, "terminal-pty requires a command")
		}
		backend = terminal.NewPTY(e.cfg.Logger)
	default:
		if ts.PaneID == "" {
			return nil, false, protocol.NewError(protocol.KindInvalidInput, "terminal-attached requires a pane_id")
		}
		backend = terminal.NewAttach(ts.PaneID, e.cfg.Logger)
	}

	env := make(map[string]string, len(ts.Env)+1)
	for k, v := range ts.Env {
		env[k] = v
	}

	proxied := false
	if ts.Provider != nil {
		inst, err := e.proxies.Start(proxyKey(s.Name(), id), *ts.Provider)
		if err != nil {
			return nil, false, err
		}
		proxied = true
		env["ANTHROPIC_BASE_URL"] = inst.URL
	}

	n := node.NewTerminal(id, s.Name(), typ, backend, cfg)
	if err := n.Start(terminal.StartOptions{
		Command: ts.Command,
		Args:    ts.Args,
		Cwd:     ts.Cwd,
		Env:     env,
		Rows:    ts.Rows,
		Cols:    ts.Cols,
	}); err != nil {
		if proxied {
			_ = e.proxies.Stop(proxyKey(s.Name(), id))
		}
		return nil, false, err
	}
	return n, proxied, nil
}

func (e *Engine) buildChatNode(ctx context.Context, s *session.Session, id string, spec map[string]any) (node.Node, error) {
	var ls llmSpec
	if err := decodeInto(spec, &ls); err != nil {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "chat params: %v", err)
	}

	var catalog *node.Catalog
	if len(ls.Tools) > 0 {
		catalog = node.NewCatalog(0)
		for _, ref := range ls.Tools {
			owner, err := s.Node(ref)
			if err != nil {
				return nil, err
			}
			tc, ok := owner.(node.ToolCapable)
			if !ok {
				return nil, protocol.Errorf(protocol.KindInvalidInput,
					"node %q is not tool-capable", ref)
			}
			if err := catalog.Mount(ctx, ref, tc); err != nil {
				return nil, protocol.AsError(err)
			}
		}
	}

	return node.NewChat(id, newLLMClient(ls), catalog, node.ChatConfig{
		System:            ls.System,
		MaxToolRounds:     ls.MaxToolRounds,
		ParallelToolCalls: ls.ParallelToolCalls,
	}), nil
}

func (e *Engine) buildMCPNode(ctx context.Context, id string, spec map[string]any) (node.Node, error) {
	var ms mcpSpec
	if err := decodeInto(spec, &ms); err != nil {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "mcp params: %v", err)
	}
	if ms.Command == "" {
		return nil, protocol.NewError(protocol.KindInvalidInput, "mcp node requires a command")
	}
	transport, err := mcp.NewStdioTransport(mcp.StdioConfig{
		Command: ms.Command,
		Args:    ms.Args,
		Env:     ms.Env,
		Dir:     ms.Cwd,
		Logger:  e.cfg.Logger,
	})
	if err != nil {
		return nil, protocol.AsError(err)
	}
	n := node.NewMCP(id, mcp.NewClient(transport, e.cfg.Logger), e.cfg.Logger)
	if err := n.Start(ctx); err != nil {
		_ = n.Stop()
		return nil, err
	}
	return n, nil
}

// newLLMClient builds the provider client for llm and chat nodes.
func newLLMClient(ls llmSpec) *anthropic.Client {
	cfg := anthropic.Config{
		APIKey:    ls.APIKey,
		Model:     ls.Model,
		MaxTokens: ls.MaxTokens,
	}
	if ls.BaseURL != "" {
		cfg.Endpoint = ls.BaseURL + "/v1/messages"
	}
	return anthropic.NewClient(cfg)
}

func (e *Engine) deleteNode(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("node_id")
	if err != nil {
		return nil, err
	}
	if id == session.IdentityNodeID {
		return nil, protocol.NewError(protocol.KindInvalidInput, "the identity node cannot be deleted")
	}
	if err := s.RemoveNode(id); err != nil {
		return nil, err
	}
	_ = e.proxies.Stop(proxyKey(s.Name(), id))
	e.cfg.Events.Emit(protocol.NewEvent(protocol.EventNodeDeleted, id, "", map[string]any{
		"session": s.Name(),
	}))
	return map[string]any{"node_id": id, "deleted": true}, nil
}

func (e *Engine) listNodes(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	nodes := s.Nodes()
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]any{
			"node_id":    n.ID(),
			"type":       string(n.Type()),
			"state":      string(n.State()),
			"persistent": n.Persistent(),
		})
	}
	return map[string]any{"nodes": out}, nil
}

func (e *Engine) getNode(p Params) (any, error) {
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
	out := map[string]any{
		"node_id":    n.ID(),
		"type":       string(n.Type()),
		"state":      string(n.State()),
		"persistent": n.Persistent(),
		"spec":       s.NodeSpec(id),
	}
	if chat, ok := n.(*node.ChatNode); ok {
		out["metadata"] = chat.Metadata()
		out["messages"] = len(chat.Messages())
	}
	if inst, proxyErr := e.proxies.Get(proxyKey(s.Name(), id)); proxyErr == nil {
		out["proxy_url"] = inst.URL
	}
	return out, nil
}

func (e *Engine) forkNode(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("node_id")
	if err != nil {
		return nil, err
	}
	newID, err := p.String("new_id")
	if err != nil {
		return nil, err
	}
	if err := node.ValidateName(newID); err != nil {
		return nil, err
	}
	n, err := s.Node(id)
	if err != nil {
		return nil, err
	}
	forker, ok := n.(node.Forker)
	if !ok {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "node %q is not forkable", id)
	}
	forked, err := forker.Fork(newID)
	if err != nil {
		return nil, protocol.AsError(err)
	}
	if err := s.AddNode(forked, s.NodeSpec(id)); err != nil {
		_ = forked.Stop()
		return nil, err
	}
	e.cfg.Events.Emit(protocol.NewEvent(protocol.EventNodeCreated, newID, "", map[string]any{
		"session":     s.Name(),
		"type":        string(forked.Type()),
		"forked_from": id,
	}))
	return map[string]any{"node_id": newID, "forked_from": id}, nil
}
