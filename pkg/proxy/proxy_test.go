// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgenticCurve/nerve-sub002/pkg/llm/anthropic"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

func startProxy(t *testing.T, m *Manager, nodeID string, cfg ProviderConfig) *Instance {
	t.Helper()
	inst, err := m.Start(nodeID, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(nodeID) })
	return inst
}

func TestPassthroughForwardsWithModelOverride(t *testing.T) {
	var gotBody map[string]any
	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		gotKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn"}`))
	}))
	defer upstream.Close()

	m := NewManager(ManagerConfig{})
	inst := startProxy(t, m, "term-1", ProviderConfig{
		APIFormat: "anthropic",
		BaseURL:   upstream.URL,
		APIKey:    "sk-test",
		Model:     "claude-sonnet-4-5",
	})

	resp, err := http.Post(inst.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"original","max_tokens":16,"messages":[{"role":"user","content":"hello"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "claude-sonnet-4-5", gotBody["model"])
	assert.Equal(t, "sk-test", gotKey)

	var out anthropic.MessagesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "hi", out.Text())
}

func TestPassthroughRelaysSSEByteFaithful(t *testing.T) {
	const stream = "event: message_start\ndata: {\"type\":\"message_start\"}\n\nevent: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, stream)
	}))
	defer upstream.Close()

	m := NewManager(ManagerConfig{})
	inst := startProxy(t, m, "term-1", ProviderConfig{APIFormat: "anthropic", BaseURL: upstream.URL})

	resp, err := http.Post(inst.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"m","max_tokens":1,"messages":[],"stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, stream, string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
}

func TestProxyAuxiliaryEndpoints(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	m := NewManager(ManagerConfig{})
	inst := startProxy(t, m, "term-1", ProviderConfig{APIFormat: "anthropic", BaseURL: upstream.URL})

	resp, err := http.Get(inst.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Post(inst.URL+"/api/event_logging/batch", "application/json", strings.NewReader(`[{"e":1}]`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransformRequestTranslation(t *testing.T) {
	tr := NewTransform("http://unused", "", "gpt-4o", nil, nil)
	temp := 0.5
	req := &anthropic.MessagesRequest{
		Model:       "claude-sonnet-4-5",
		MaxTokens:   128,
		Temperature: &temp,
		System:      anthropic.SystemPrompt{{Type: "text", Text: "be brief"}},
		Messages: []anthropic.Message{
			{Role: "user", Content: anthropic.MessageContent{{Type: "text", Text: "list files"}}},
			{Role: "assistant", Content: anthropic.MessageContent{
				{Type: "text", Text: "running it"},
				{Type: "tool_use", ID: "toolu_1", Name: "bash", Input: map[string]any{"command": "ls"}},
			}},
			{Role: "user", Content: anthropic.MessageContent{
				{Type: "tool_result", ToolUseID: "toolu_1", Content: json.RawMessage(`"a.txt"`)},
				{Type: "text", Text: "now summarize"},
			}},
		},
		Tools: []anthropic.Tool{{Name: "bash", Description: "run a command", InputSchema: map[string]any{"type": "object"}}},
	}

	out := tr.toOpenAIRequest(req)
	assert.Equal(t, "gpt-4o", out.Model)
	assert.Equal(t, 128, out.MaxTokens)
	require.Len(t, out.Messages, 5)

	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "be brief", out.Messages[0].Content.Text)
	assert.Equal(t, "user", out.Messages[1].Role)

	asst := out.Messages[2]
	assert.Equal(t, "assistant", asst.Role)
	assert.Equal(t, "running it", asst.Content.Text)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "call_1", asst.ToolCalls[0].ID)
	assert.JSONEq(t, `{"command":"ls"}`, asst.ToolCalls[0].Function.Arguments)

	toolMsg := out.Messages[3]
	assert.Equal(t, "tool", toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, "a.txt", toolMsg.Content.Text)

	assert.Equal(t, "user", out.Messages[4].Role)
	assert.Equal(t, "now summarize", out.Messages[4].Content.Text)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "function", out.Tools[0].Type)
	assert.Equal(t, "bash", out.Tools[0].Function.Name)
}

func TestTransformEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-oai", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"chatcmpl-9x","model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{
				"role":"assistant","content":null,
				"tool_calls":[{"id":"call_77","type":"function","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]
			}}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
		}`)
	}))
	defer upstream.Close()

	m := NewManager(ManagerConfig{})
	inst := startProxy(t, m, "term-1", ProviderConfig{APIFormat: "openai", BaseURL: upstream.URL, APIKey: "sk-oai"})

	resp, err := http.Post(inst.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"claude-sonnet-4-5","max_tokens":64,"messages":[{"role":"user","content":"list files"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out anthropic.MessagesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	assert.Equal(t, "tool_use", out.StopReason)
	assert.Equal(t, 10, out.Usage.InputTokens)
	assert.Equal(t, 5, out.Usage.OutputTokens)

	uses := out.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "toolu_77", uses[0].ID)
	assert.Equal(t, "bash", uses[0].Name)
	assert.Equal(t, map[string]any{"command": "ls"}, uses[0].Input)
}

func TestTransformUpstreamErrorSurface(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}))
	defer upstream.Close()

	m := NewManager(ManagerConfig{Retry: RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}})
	inst := startProxy(t, m, "term-1", ProviderConfig{APIFormat: "openai", BaseURL: upstream.URL})

	resp, err := http.Post(inst.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"m","max_tokens":1,"messages":[{"role":"user","content":"x"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Upstream status preserved, body in the Anthropic error shape.
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var out anthropic.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, "rate_limit_error", out.Error.Type)
	assert.Equal(t, "rate limited", out.Error.Message)
}

func sseFrames(t *testing.T, body io.Reader) []anthropic.StreamEvent {
	t.Helper()
	var events []anthropic.StreamEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev anthropic.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestTransformStreamTranslation(t *testing.T) {
	chunks := []string{
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"id":"call_9","type":"function","index":0,"function":{"name":"bash","arguments":""}}]}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"id":"","index":0,"function":{"arguments":"{\"command\":"}}]}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"id":"","index":0,"function":{"arguments":"\"ls\"}"}}]}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"chatcmpl-1","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":12,"total_tokens":19}}`,
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	m := NewManager(ManagerConfig{})
	inst := startProxy(t, m, "term-1", ProviderConfig{APIFormat: "openai", BaseURL: upstream.URL})

	resp, err := http.Post(inst.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"m","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"x"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := sseFrames(t, resp.Body)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	assert.Equal(t, []string{
		"message_start",
		"content_block_start", // text
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"content_block_start", // tool_use
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)

	assert.Equal(t, "Hel", events[2].Delta.Text)
	assert.Equal(t, "lo", events[3].Delta.Text)

	toolStart := events[5]
	assert.Equal(t, 1, toolStart.Index)
	assert.Equal(t, "tool_use", toolStart.ContentBlock.Type)
	assert.Equal(t, "toolu_9", toolStart.ContentBlock.ID)
	assert.Equal(t, "bash", toolStart.ContentBlock.Name)

	var args bytes.Buffer
	args.WriteString(events[6].Delta.PartialJSON)
	args.WriteString(events[7].Delta.PartialJSON)
	assert.JSONEq(t, `{"command":"ls"}`, args.String())

	final := events[len(events)-2]
	assert.Equal(t, "message_delta", final.Type)
	assert.Equal(t, "tool_use", final.Delta.StopReason)
	assert.Equal(t, 12, final.Usage.OutputTokens)
}

func TestManagerLifecycle(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	m := NewManager(ManagerConfig{})
	cfg := ProviderConfig{APIFormat: "anthropic", BaseURL: upstream.URL}

	inst, err := m.Start("term-1", cfg)
	require.NoError(t, err)
	assert.Contains(t, inst.URL, "http://127.0.0.1:")

	// Duplicate node conflicts.
	_, err = m.Start("term-1", cfg)
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindConflict))

	got, err := m.Get("term-1")
	require.NoError(t, err)
	assert.Equal(t, inst.URL, got.URL)

	require.NoError(t, m.Stop("term-1"))
	_, err = m.Get("term-1")
	assert.True(t, protocol.IsKind(err, protocol.KindNotFound))

	// The node can get a fresh proxy after stop.
	_, err = m.Start("term-1", cfg)
	require.NoError(t, err)
	m.StopAll()
	_, err = m.Get("term-1")
	assert.True(t, protocol.IsKind(err, protocol.KindNotFound))

	// Unknown formats are rejected up front.
	_, err = m.Start("term-2", ProviderConfig{APIFormat: "grpc", BaseURL: upstream.URL})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindInvalidInput))
}
