// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package proxy

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/llm/anthropic"
	"github.com/AgenticCurve/nerve-sub002/pkg/llm/openai"
)

// Transform accepts the Anthropic Messages dialect and forwards to an
// OpenAI-compatible chat completions upstream, translating requests,
// responses and SSE streams in both directions.
type Transform struct {
	baseURL  string
	apiKey   string
	model    string
	upstream *Upstream
	ids      *ToolIDMapper
	logger   *zap.Logger
}

// NewTransform creates the transform handler. The ToolIDMapper scope
// is the proxy instance, matching one conversation per node.
func NewTransform(baseURL, apiKey, model string, upstream *Upstream, logger *zap.Logger) *Transform {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transform{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		upstream: upstream,
		ids:      NewToolIDMapper(),
		logger:   logger,
	}
}

func (t *Transform) serveMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
		return
	}

	oreq := t.toOpenAIRequest(&req)
	body, err := json.Marshal(oreq)
	if err != nil {
		writeAnthropicError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.upstream.Do(r.Context(), http.MethodPost, t.baseURL+"/v1/chat/completions", header, body)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		t.relayError(w, resp)
		return
	}

	if req.Stream {
		t.relayStream(w, resp.Body, oreq.Model)
		return
	}

	var oresp openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&oresp); err != nil {
		writeAnthropicError(w, http.StatusBadGateway, "api_error", "malformed upstream response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(t.toAnthropicResponse(&oresp))
}

// relayError surfaces an upstream error in the Anthropic body shape,
// preserving the upstream status code.
func (t *Transform) relayError(w http.ResponseWriter, resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := strings.TrimSpace(string(body))
	errType := "api_error"

	var oerr openai.ErrorResponse
	if err := json.Unmarshal(body, &oerr); err == nil && oerr.Error.Message != "" {
		message = oerr.Error.Message
		if oerr.Error.Type != "" {
			errType = oerr.Error.Type
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		errType = "rate_limit_error"
	}
	writeAnthropicError(w, resp.StatusCode, errType, message)
}

// toOpenAIRequest translates an Anthropic request. Tool results become
// role:"tool" messages; assistant tool_use blocks become tool_calls.
func (t *Transform) toOpenAIRequest(req *anthropic.MessagesRequest) *openai.ChatCompletionRequest {
	out := &openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if t.model != "" {
		out.Model = t.model
	}
	if req.Stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if len(req.StopSequences) > 0 {
		if stop, err := json.Marshal(req.StopSequences); err == nil {
			out.Stop = stop
		}
	}
	if system := req.System.Text(); system != "" {
		out.Messages = append(out.Messages, openai.Message{
			Role:    "system",
			Content: openai.Content{Text: system},
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			m := openai.Message{Role: "assistant"}
			for _, block := range msg.Content {
				switch block.Type {
				case "text":
					m.Content.Text += block.Text
				case "tool_use":
					args, err := json.Marshal(block.Input)
					if err != nil || len(block.Input) == 0 {
						args = []byte("{}")
					}
					m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
						ID:   t.ids.ProviderID(block.ID),
						Type: "function",
						Function: openai.FunctionCall{
							Name:      block.Name,
							Arguments: string(args),
						},
					})
				}
			}
			out.Messages = append(out.Messages, m)
		default:
			// Tool results must precede the user text as standalone
			// role:"tool" messages.
			var text string
			for _, block := range msg.Content {
				switch block.Type {
				case "tool_result":
					out.Messages = append(out.Messages, openai.Message{
						Role:       "tool",
						ToolCallID: t.ids.ProviderID(block.ToolUseID),
						Content:    openai.Content{Text: block.ResultText()},
					})
				case "text":
					text += block.Text
				}
			}
			if text != "" {
				out.Messages = append(out.Messages, openai.Message{
					Role:    "user",
					Content: openai.Content{Text: text},
				})
			}
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

// toAnthropicResponse translates a non-streaming completion.
func (t *Transform) toAnthropicResponse(resp *openai.ChatCompletionResponse) *anthropic.MessagesResponse {
	out := &anthropic.MessagesResponse{
		ID:    "msg_" + strings.TrimPrefix(resp.ID, "chatcmpl-"),
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
	}
	if resp.Usage != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		out.StopReason = "end_turn"
		return out
	}

	choice := resp.Choices[0]
	if text := choice.Message.Content.String(); text != "" {
		out.Content = append(out.Content, anthropic.ContentBlock{Type: "text", Text: text})
	}
	for _, call := range choice.Message.ToolCalls {
		out.Content = append(out.Content, anthropic.ContentBlock{
			Type:  "tool_use",
			ID:    t.ids.AnthropicID(call.ID),
			Name:  call.Function.Name,
			Input: decodeArguments(call.Function.Arguments, t.logger),
		})
	}
	out.StopReason = stopReason(choice.FinishReason)
	return out
}

// decodeArguments parses tool-call arguments, repairing truncated or
// sloppy JSON the way lenient providers emit it.
func decodeArguments(arguments string, logger *zap.Logger) map[string]any {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(arguments), &input); err == nil {
		return input
	}
	repaired, err := jsonrepair.JSONRepair(arguments)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &input); err == nil {
			return input
		}
	}
	logger.Debug("unparseable tool arguments", zap.String("arguments", arguments))
	return map[string]any{}
}

func stopReason(finish string) string {
	switch finish {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// streamState tracks the open content block while translating chunks.
type streamState struct {
	sse        *sseWriter
	ids        *ToolIDMapper
	index      int
	blockOpen  bool
	blockType  string
	finish     string
	outputToks int
}

// relayStream translates an OpenAI chunk stream into the Anthropic
// event sequence: message_start, then per content block
// content_block_start/delta/stop, then message_delta and message_stop.
func (t *Transform) relayStream(w http.ResponseWriter, body io.Reader, model string) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeAnthropicError(w, http.StatusInternalServerError, "api_error", "streaming unsupported by connection")
		return
	}

	state := &streamState{sse: sse, ids: t.ids, index: -1}
	_ = sse.event("message_start", anthropic.StreamEvent{
		Type: "message_start",
		Message: &anthropic.MessagesResponse{
			ID:      "msg_stream",
			Type:    "message",
			Role:    "assistant",
			Model:   model,
			Content: []anthropic.ContentBlock{},
		},
	})

	// SSE format: "data: <json>" frames terminated by "data: [DONE]".
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.logger.Debug("skipping malformed chunk", zap.Error(err))
			continue
		}
		state.consume(&chunk)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("upstream stream interrupted", zap.Error(err))
	}
	state.close()
}

func (s *streamState) consume(chunk *openai.ChatCompletionChunk) {
	if chunk.Usage != nil {
		s.outputToks = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		s.finish = choice.FinishReason
	}

	if choice.Delta.Content != "" {
		s.ensureTextBlock()
		_ = s.sse.event("content_block_delta", anthropic.StreamEvent{
			Type:  "content_block_delta",
			Index: s.index,
			Delta: &anthropic.StreamDelta{Type: "text_delta", Text: choice.Delta.Content},
		})
	}

	for _, call := range choice.Delta.ToolCalls {
		if call.ID != "" {
			// A fresh id opens a new tool_use block.
			s.closeBlock()
			s.index++
			s.blockOpen = true
			s.blockType = "tool_use"
			_ = s.sse.event("content_block_start", anthropic.StreamEvent{
				Type:  "content_block_start",
				Index: s.index,
				ContentBlock: &anthropic.ContentBlock{
					Type:  "tool_use",
					ID:    s.ids.AnthropicID(call.ID),
					Name:  call.Function.Name,
					Input: map[string]any{},
				},
			})
		}
		if call.Function.Arguments != "" {
			_ = s.sse.event("content_block_delta", anthropic.StreamEvent{
				Type:  "content_block_delta",
				Index: s.index,
				Delta: &anthropic.StreamDelta{Type: "input_json_delta", PartialJSON: call.Function.Arguments},
			})
		}
	}
}

// ensureTextBlock opens a text content block unless one is open.
func (s *streamState) ensureTextBlock() {
	if s.blockOpen && s.blockType == "text" {
		return
	}
	s.closeBlock()
	s.index++
	s.blockOpen = true
	s.blockType = "text"
	_ = s.sse.event("content_block_start", anthropic.StreamEvent{
		Type:         "content_block_start",
		Index:        s.index,
		ContentBlock: &anthropic.ContentBlock{Type: "text"},
	})
}

func (s *streamState) closeBlock() {
	if !s.blockOpen {
		return
	}
	_ = s.sse.event("content_block_stop", anthropic.StreamEvent{
		Type:  "content_block_stop",
		Index: s.index,
	})
	s.blockOpen = false
}

// close finishes the message with message_delta and message_stop.
func (s *streamState) close() {
	s.closeBlock()
	_ = s.sse.event("message_delta", anthropic.StreamEvent{
		Type:  "message_delta",
		Delta: &anthropic.StreamDelta{StopReason: stopReason(s.finish)},
		Usage: &anthropic.Usage{OutputTokens: s.outputToks},
	})
	_ = s.sse.event("message_stop", anthropic.StreamEvent{Type: "message_stop"})
}
