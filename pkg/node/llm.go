// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"

	"github.com/AgenticCurve/nerve-sub002/pkg/llm/anthropic"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// LLMCaller is the provider surface LLM-backed nodes depend on.
// Satisfied by *anthropic.Client.
type LLMCaller interface {
	CreateMessage(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error)
	Model() string
}

// LLMNode performs one provider request per execution and holds no
// conversation. Ephemeral.
type LLMNode struct {
	stateMachine
	id     string
	caller LLMCaller
	system string
}

// NewLLM creates a single-shot LLM node.
func NewLLM(id string, caller LLMCaller, system string) *LLMNode {
	n := &LLMNode{id: id, caller: caller, system: system}
	n.state = StateReady
	return n
}

func (n *LLMNode) ID() string       { return n.id }
func (n *LLMNode) Type() Type       { return TypeLLM }
func (n *LLMNode) Persistent() bool { return false }

// Execute sends ec.Input as a message list (or a single user message
// when the input is a string) and returns the provider result.
func (n *LLMNode) Execute(ctx context.Context, ec *ExecContext) (any, error) {
	if err := n.transition(StateBusy, StateReady); err != nil {
		return nil, err
	}
	defer n.setState(StateReady)

	if err := ec.CheckCancelled(); err != nil {
		return nil, err
	}

	messages, err := coerceMessages(ec.Input)
	if err != nil {
		return nil, err
	}

	req := &anthropic.MessagesRequest{Messages: messages}
	if n.system != "" {
		req.System = anthropic.SystemPrompt{{Type: "text", Text: n.system}}
	}

	callCtx := ctx
	if timeout := ec.EffectiveTimeout(0); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := n.caller.CreateMessage(callCtx, req)
	if ec != nil && ec.Usage != nil {
		ec.Usage.AddAPICalls(1)
		if resp != nil {
			ec.Usage.AddTokens(int64(resp.Usage.InputTokens + resp.Usage.OutputTokens))
		}
	}
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   err.Error(),
		}, protocol.AsError(err)
	}

	return map[string]any{
		"content":       resp.Text(),
		"usage":         resp.Usage,
		"finish_reason": resp.StopReason,
		"success":       true,
	}, nil
}

// Interrupt implements Node; single-shot requests are cancelled by
// their context.
func (n *LLMNode) Interrupt() error { return nil }

// Stop implements Node.
func (n *LLMNode) Stop() error {
	n.setState(StateStopped)
	return nil
}

// coerceMessages accepts a string, a message slice, or a generic JSON
// shape for the input.
func coerceMessages(input any) ([]anthropic.Message, error) {
	switch v := input.(type) {
	case string:
		return []anthropic.Message{{
			Role:    "user",
			Content: anthropic.MessageContent{{Type: "text", Text: v}},
		}}, nil
	case []anthropic.Message:
		return v, nil
	case []any:
		messages := make([]anthropic.Message, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, protocol.NewError(protocol.KindInvalidInput,
					"messages must be objects with role and content")
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role == "" {
				return nil, protocol.NewError(protocol.KindInvalidInput, "message missing role")
			}
			messages = append(messages, anthropic.Message{
				Role:    role,
				Content: anthropic.MessageContent{{Type: "text", Text: content}},
			})
		}
		return messages, nil
	}
	return nil, protocol.Errorf(protocol.KindInvalidInput,
		"unsupported LLM input type %T", input)
}
