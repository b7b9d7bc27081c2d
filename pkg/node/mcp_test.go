// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgenticCurve/nerve-sub002/pkg/mcp"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// loopbackTransport answers MCP requests with canned handlers.
type loopbackTransport struct {
	pending  [][]byte
	failInit bool
}

func (l *loopbackTransport) Send(ctx context.Context, message []byte) error {
	var req mcp.Request
	if err := json.Unmarshal(message, &req); err != nil {
		return err
	}
	if req.ID == nil {
		return nil
	}

	var result any
	switch req.Method {
	case "initialize":
		if l.failInit {
			l.push(req.ID, nil, &mcp.RPCError{Code: -32603, Message: "broken server"})
			return nil
		}
		result = mcp.InitializeResult{
			ProtocolVersion: mcp.ProtocolVersion,
			ServerInfo:      mcp.Implementation{Name: "fake", Version: "1"},
		}
	case "tools/list":
		result = mcp.ListToolsResult{Tools: []mcp.ToolInfo{
			{Name: "read_file", Description: "read a file"},
			{Name: "list_dir"},
		}}
	case "tools/call":
		var params mcp.CallToolParams
		_ = json.Unmarshal(req.Params, &params)
		result = mcp.CallToolResult{Content: []mcp.ToolContent{
			{Type: "text", Text: "called:" + params.Name},
		}}
	}
	l.push(req.ID, result, nil)
	return nil
}

func (l *loopbackTransport) push(id *mcp.RequestID, result any, rpcErr *mcp.RPCError) {
	resp := mcp.Response{JSONRPC: mcp.JSONRPCVersion, ID: id, Error: rpcErr}
	if result != nil {
		data, _ := json.Marshal(result)
		resp.Result = data
	}
	frame, _ := json.Marshal(resp)
	l.pending = append(l.pending, frame)
}

func (l *loopbackTransport) Receive(ctx context.Context) ([]byte, error) {
	if len(l.pending) == 0 {
		return nil, context.DeadlineExceeded
	}
	frame := l.pending[0]
	l.pending = l.pending[1:]
	return frame, nil
}

func (l *loopbackTransport) Close() error { return nil }

func TestMCPNodeLifecycle(t *testing.T) {
	n := NewMCP("fs-mcp", mcp.NewClient(&loopbackTransport{}, nil), nil)
	assert.Equal(t, StateCreated, n.State())

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, StateReady, n.State())

	tools, err := n.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "read_file", tools[0].Name)
	assert.Equal(t, "fs-mcp", tools[0].OwnerNodeID)

	out, err := n.CallTool(context.Background(), "read_file", map[string]any{"path": "x"})
	require.NoError(t, err)
	assert.Equal(t, "called:read_file", out)

	require.NoError(t, n.Stop())
	assert.Equal(t, StateStopped, n.State())
}

func TestMCPNodeFailFastWithoutHandshake(t *testing.T) {
	transport := &loopbackTransport{failInit: true}
	n := NewMCP("fs-mcp", mcp.NewClient(transport, nil), nil)

	err := n.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, n.State())

	// No I/O to the child after a failed handshake.
	transport.pending = nil
	_, err = n.CallTool(context.Background(), "read_file", nil)
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindInvalidState))
	assert.Empty(t, transport.pending)
}

func TestMCPNodeExecute(t *testing.T) {
	n := NewMCP("fs-mcp", mcp.NewClient(&loopbackTransport{}, nil), nil)
	require.NoError(t, n.Start(context.Background()))

	out, err := n.Execute(context.Background(), &ExecContext{Input: map[string]any{
		"tool": "list_dir",
		"args": map[string]any{"path": "."},
	}})
	require.NoError(t, err)
	assert.Equal(t, "called:list_dir", out)

	_, err = n.Execute(context.Background(), &ExecContext{Input: "not a map"})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindInvalidInput))
}
