// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AgenticCurve/nerve-sub002/pkg/llm/anthropic"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// DefaultMaxToolRounds bounds the tool loop of one chat execution.
const DefaultMaxToolRounds = 10

// ChatConfig configures a chat node.
type ChatConfig struct {
	System            string
	MaxToolRounds     int  // default 10
	ParallelToolCalls bool // dispatch tool calls of one turn concurrently
}

// ChatNode owns a conversation with an LLM provider and a tool
// catalog. Persistent and forkable.
type ChatNode struct {
	stateMachine
	id      string
	caller  LLMCaller
	catalog *Catalog
	cfg     ChatConfig

	convMu   sync.Mutex
	messages []anthropic.Message
	metadata map[string]any
}

// NewChat creates a chat node. catalog may be nil for tool-less chats.
func NewChat(id string, caller LLMCaller, catalog *Catalog, cfg ChatConfig) *ChatNode {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	n := &ChatNode{
		id:       id,
		caller:   caller,
		catalog:  catalog,
		cfg:      cfg,
		metadata: map[string]any{},
	}
	n.state = StateReady
	return n
}

func (n *ChatNode) ID() string       { return n.id }
func (n *ChatNode) Type() Type       { return TypeChat }
func (n *ChatNode) Persistent() bool { return true }

// Metadata returns a copy of the node metadata (fork lineage).
func (n *ChatNode) Metadata() map[string]any {
	n.convMu.Lock()
	defer n.convMu.Unlock()
	out := make(map[string]any, len(n.metadata))
	for k, v := range n.metadata {
		out[k] = v
	}
	return out
}

// Messages returns a deep copy of the conversation.
func (n *ChatNode) Messages() []anthropic.Message {
	n.convMu.Lock()
	defer n.convMu.Unlock()
	return copyMessages(n.messages)
}

// Clear empties the conversation. The system prompt persists.
func (n *ChatNode) Clear() {
	n.convMu.Lock()
	n.messages = nil
	n.convMu.Unlock()
}

// Execute appends ec.Input as a user message and loops provider turns,
// dispatching tool calls through the catalog, until the model answers
// without tools or the round limit is hit.
func (n *ChatNode) Execute(ctx context.Context, ec *ExecContext) (any, error) {
	if err := n.transition(StateBusy, StateReady); err != nil {
		return nil, err
	}
	defer n.setState(StateReady)

	if err := ec.CheckCancelled(); err != nil {
		return nil, err
	}

	input := ec.InputString()
	if input == "" {
		return nil, protocol.NewError(protocol.KindInvalidInput, "chat node requires an input message")
	}

	n.convMu.Lock()
	n.messages = append(n.messages, anthropic.Message{
		Role:    "user",
		Content: anthropic.MessageContent{{Type: "text", Text: input}},
	})
	n.convMu.Unlock()

	callCtx := ctx
	if timeout := ec.EffectiveTimeout(0); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var totalUsage anthropic.Usage
	for round := 0; round < n.cfg.MaxToolRounds; round++ {
		if err := ec.CheckCancelled(); err != nil {
			return nil, err
		}
		if err := ec.CheckBudget(); err != nil {
			return nil, err
		}

		resp, err := n.callProvider(callCtx, ec, &totalUsage)
		if err != nil {
			return nil, err
		}

		toolUses := resp.ToolUses()
		if len(toolUses) == 0 {
			n.convMu.Lock()
			n.messages = append(n.messages, anthropic.Message{
				Role:    "assistant",
				Content: anthropic.MessageContent(resp.Content),
			})
			count := len(n.messages)
			n.convMu.Unlock()

			return map[string]any{
				"content":        resp.Text(),
				"usage":          totalUsage,
				"messages_count": count,
				"success":        true,
			}, nil
		}

		// Assistant turn with tool_use blocks, then one user turn
		// carrying every tool_result.
		n.convMu.Lock()
		n.messages = append(n.messages, anthropic.Message{
			Role:    "assistant",
			Content: anthropic.MessageContent(resp.Content),
		})
		n.convMu.Unlock()

		results, err := n.dispatchTools(callCtx, toolUses)
		if err != nil {
			return nil, err
		}
		n.convMu.Lock()
		n.messages = append(n.messages, anthropic.Message{
			Role:    "user",
			Content: results,
		})
		n.convMu.Unlock()
	}

	return nil, protocol.Errorf(protocol.KindBackendError,
		"chat %s exceeded %d tool rounds", n.id, n.cfg.MaxToolRounds)
}

func (n *ChatNode) callProvider(ctx context.Context, ec *ExecContext, total *anthropic.Usage) (*anthropic.MessagesResponse, error) {
	req := &anthropic.MessagesRequest{Messages: n.Messages()}
	if n.cfg.System != "" {
		req.System = anthropic.SystemPrompt{{Type: "text", Text: n.cfg.System}}
	}
	if n.catalog != nil {
		for _, def := range n.catalog.Definitions() {
			req.Tools = append(req.Tools, anthropic.Tool{
				Name:        def.Name,
				Description: def.Description,
				InputSchema: def.Parameters,
			})
		}
	}

	resp, err := n.caller.CreateMessage(ctx, req)
	if ec != nil && ec.Usage != nil {
		ec.Usage.AddAPICalls(1)
		if resp != nil {
			ec.Usage.AddTokens(int64(resp.Usage.InputTokens + resp.Usage.OutputTokens))
		}
	}
	if err != nil {
		return nil, protocol.AsError(err)
	}
	total.InputTokens += resp.Usage.InputTokens
	total.OutputTokens += resp.Usage.OutputTokens
	return resp, nil
}

// dispatchTools runs the turn's tool calls and returns the tool_result
// blocks in the original call order.
func (n *ChatNode) dispatchTools(ctx context.Context, toolUses []anthropic.ContentBlock) (anthropic.MessageContent, error) {
	results := make(anthropic.MessageContent, len(toolUses))

	runOne := func(i int, tu anthropic.ContentBlock) {
		var text string
		if n.catalog == nil {
			text = "error: no tools are mounted on this node"
		} else {
			text = n.catalog.Call(ctx, tu.Name, tu.Input)
		}
		content, _ := json.Marshal(text)
		results[i] = anthropic.ContentBlock{
			Type:      "tool_result",
			ToolUseID: tu.ID,
			Content:   content,
		}
	}

	if n.cfg.ParallelToolCalls && len(toolUses) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i, tu := range toolUses {
			g.Go(func() error {
				runOne(i, tu)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return nil, protocol.AsError(err)
		}
		return results, nil
	}

	for i, tu := range toolUses {
		runOne(i, tu)
	}
	return results, nil
}

// Fork produces an independent chat node deep-copying the
// conversation; later mutations on either side are isolated.
func (n *ChatNode) Fork(newID string) (Node, error) {
	if err := ValidateName(newID); err != nil {
		return nil, err
	}

	n.convMu.Lock()
	defer n.convMu.Unlock()

	clone := NewChat(newID, n.caller, n.catalog, n.cfg)
	clone.messages = copyMessages(n.messages)
	clone.metadata["forked_from"] = n.id
	clone.metadata["forked_at"] = time.Now().UnixNano()
	return clone, nil
}

// Interrupt implements Node; provider calls are cancelled via context.
func (n *ChatNode) Interrupt() error { return nil }

// Stop implements Node.
func (n *ChatNode) Stop() error {
	n.setState(StateStopped)
	return nil
}

// copyMessages deep-copies the conversation including tool input maps
// and raw result payloads.
func copyMessages(in []anthropic.Message) []anthropic.Message {
	out := make([]anthropic.Message, len(in))
	for i, m := range in {
		content := make(anthropic.MessageContent, len(m.Content))
		for j, b := range m.Content {
			nb := b
			if b.Input != nil {
				nb.Input = copyValue(b.Input).(map[string]any)
			}
			if b.Content != nil {
				nb.Content = append(json.RawMessage(nil), b.Content...)
			}
			content[j] = nb
		}
		out[i] = anthropic.Message{Role: m.Role, Content: content}
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = copyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = copyValue(vv)
		}
		return out
	}
	return v
}
