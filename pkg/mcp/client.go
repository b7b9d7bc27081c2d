// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// Client drives one MCP server over a Transport. Calls are serialized:
// the stdio framing has a single response stream, so one request is in
// flight at a time.
type Client struct {
	transport Transport
	logger    *zap.Logger

	nextID int64

	callMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	serverInfo  Implementation
	tools       []ToolInfo
	toolsLoaded bool
}

// NewClient wraps a transport. Initialize must be called before any
// other method.
func NewClient(transport Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{transport: transport, logger: logger}
}

// Initialize performs the MCP handshake and sends the initialized
// notification.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Implementation{Name: "nerve", Version: "1.0.0"},
	}
	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	// Notification: no id, no response expected.
	note := Request{JSONRPC: JSONRPCVersion, Method: "notifications/initialized"}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := c.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	c.logger.Info("mcp session initialized",
		zap.String("server", result.ServerInfo.Name),
		zap.String("version", result.ServerInfo.Version),
		zap.String("protocol", result.ProtocolVersion),
	)
	return nil
}

// ServerInfo returns the server identity from the handshake.
func (c *Client) ServerInfo() Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ListTools returns the server's tools, cached after the first call.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c.mu.Lock()
	if c.toolsLoaded {
		tools := c.tools
		c.mu.Unlock()
		return tools, nil
	}
	c.mu.Unlock()

	var result ListToolsResult
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.toolsLoaded = true
	c.mu.Unlock()
	return result.Tools, nil
}

// CallTool invokes one tool. A result with isError set comes back as a
// backend error carrying the result text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	params := CallToolParams{Name: name, Arguments: args}
	var result CallToolResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, fmt.Errorf("tools/call %s failed: %w", name, err)
	}
	if result.IsError {
		return &result, protocol.NewError(protocol.KindBackendError, result.Text()).
			WithDetail("tool", name)
	}
	return &result, nil
}

// Close shuts down the transport and the server process.
func (c *Client) Close() error {
	return c.transport.Close()
}

// call sends one request and reads frames until the matching response
// arrives, skipping server notifications.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	id := atomic.AddInt64(&c.nextID, 1)
	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      NumericID(id),
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = data
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := c.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	for {
		raw, err := c.transport.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive failed: %w", err)
		}
		if len(raw) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.logger.Warn("skipping malformed frame", zap.Error(err))
			continue
		}
		if resp.ID == nil {
			// Server notification; not ours.
			continue
		}
		if resp.ID.String() != req.ID.String() {
			c.logger.Warn("skipping response for unknown request",
				zap.String("id", resp.ID.String()))
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to unmarshal result: %w", err)
			}
		}
		return nil
	}
}
