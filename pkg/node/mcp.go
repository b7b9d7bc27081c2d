// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/mcp"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// MCPNode wraps an external tool server speaking MCP over stdio.
// Persistent and multi-tool.
type MCPNode struct {
	stateMachine
	id     string
	client *mcp.Client
	logger *zap.Logger
}

// NewMCP creates the node around an un-initialized client.
func NewMCP(id string, client *mcp.Client, logger *zap.Logger) *MCPNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &MCPNode{id: id, client: client, logger: logger}
	n.state = StateCreated
	return n
}

func (n *MCPNode) ID() string       { return n.id }
func (n *MCPNode) Type() Type       { return TypeMCP }
func (n *MCPNode) Persistent() bool { return true }

// Start performs the MCP handshake. Failure moves the node to ERROR;
// later calls fail fast without touching the child.
func (n *MCPNode) Start(ctx context.Context) error {
	if err := n.transition(StateStarting, StateCreated, StateError); err != nil {
		return err
	}
	if err := n.client.Initialize(ctx); err != nil {
		n.setState(StateError)
		return protocol.AsError(err)
	}
	n.setState(StateReady)
	return nil
}

// Execute treats the input map {tool, args} as one tool call.
func (n *MCPNode) Execute(ctx context.Context, ec *ExecContext) (any, error) {
	params, ok := ec.Input.(map[string]any)
	if !ok {
		return nil, protocol.NewError(protocol.KindInvalidInput,
			"mcp node input must be {tool, args}")
	}
	name, _ := params["tool"].(string)
	if name == "" {
		return nil, protocol.NewError(protocol.KindInvalidInput, "mcp node input missing tool name")
	}
	args, _ := params["args"].(map[string]any)
	return n.CallTool(ctx, name, args)
}

// ListTools implements ToolCapable; the list is cached by the client.
func (n *MCPNode) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := n.readyCheck(); err != nil {
		return nil, err
	}
	tools, err := n.client.ListTools(ctx)
	if err != nil {
		return nil, protocol.AsError(err)
	}
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
			OwnerNodeID: n.id,
		})
	}
	return defs, nil
}

// CallTool implements ToolCapable: one serialized tools/call, text
// blocks concatenated.
func (n *MCPNode) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := n.readyCheck(); err != nil {
		return "", err
	}
	n.setState(StateBusy)
	defer n.setState(StateReady)

	result, err := n.client.CallTool(ctx, name, args)
	if err != nil {
		if result != nil && result.IsError {
			// Tool-level failure: surface the text so the model can
			// recover; the node stays healthy.
			return result.Text(), nil
		}
		return "", protocol.AsError(err)
	}
	return result.Text(), nil
}

// readyCheck fails fast when the handshake never completed.
func (n *MCPNode) readyCheck() error {
	switch n.State() {
	case StateReady, StateBusy:
		return nil
	}
	return protocol.Errorf(protocol.KindInvalidState,
		"mcp node %s is not ready (state %s)", n.id, n.State())
}

// Interrupt implements Node; tool calls are bounded by their context.
func (n *MCPNode) Interrupt() error { return nil }

// Stop closes the client and the server subprocess.
func (n *MCPNode) Stop() error {
	if err := n.transition(StateStopping, StateCreated, StateReady, StateBusy, StateError); err != nil {
		return nil
	}
	err := n.client.Close()
	n.setState(StateStopped)
	if err != nil {
		n.logger.Warn("mcp node stop", zap.String("node", n.id), zap.Error(err))
	}
	return nil
}
