// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package proxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/AgenticCurve/nerve-sub002/pkg/llm/anthropic"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// messagesHandler serves one POST /v1/messages implementation.
type messagesHandler interface {
	serveMessages(w http.ResponseWriter, r *http.Request)
}

// Instance is one running loopback proxy bound to a node.
type Instance struct {
	NodeID string
	URL    string

	server   *http.Server
	listener net.Listener
}

// newMux wires the shared wire surface around a messages handler.
func newMux(h messagesHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", h.serveMessages)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	// Telemetry is accepted and dropped so clients never stall on it.
	mux.HandleFunc("POST /api/event_logging/batch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// shutdown stops the instance's server and frees its port.
func (i *Instance) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return i.server.Shutdown(ctx)
}

// writeAnthropicError writes an Anthropic-shaped error body.
func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(anthropic.ErrorResponse{
		Type:  "error",
		Error: anthropic.APIError{Type: errType, Message: message},
	})
}

// writeProxyError maps an internal error onto the Anthropic error
// surface.
func writeProxyError(w http.ResponseWriter, err error) {
	switch protocol.KindOf(err) {
	case protocol.KindCircuitOpen:
		writeAnthropicError(w, http.StatusServiceUnavailable, "overloaded_error", err.Error())
	case protocol.KindTimeout, protocol.KindCancelled:
		writeAnthropicError(w, http.StatusGatewayTimeout, "api_error", err.Error())
	case protocol.KindInvalidInput:
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	default:
		writeAnthropicError(w, http.StatusBadGateway, "api_error", err.Error())
	}
}

// sseWriter emits server-sent events with immediate flushing.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, f: f}, true
}

// event writes one "event:"/"data:" frame and flushes it.
func (s *sseWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("event: " + name + "\ndata: " + string(data) + "\n\n")); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
