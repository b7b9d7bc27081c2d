// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// DefaultWriteTimeout bounds one WebSocket event write; a client that
// cannot keep up is disconnected rather than allowed to stall the hub.
const DefaultWriteTimeout = 5 * time.Second

// httpHandler builds the HTTP surface: command POST, event WebSocket,
// health and cooperative shutdown.
func (s *Server) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		s.RequestShutdown()
	})
	return mux
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd protocol.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(protocol.Fail("", protocol.Errorf(
			protocol.KindInvalidInput, "malformed command: %v", err)))
		return
	}
	result := s.engine.Execute(r.Context(), cmd)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleEvents upgrades to a WebSocket and streams every engine event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, cancel := s.hub.Subscribe()
	defer cancel()

	// Drain client frames so pings and close frames are processed.
	readCtx := conn.CloseRead(r.Context())

	for {
		select {
		case <-readCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(envelope(ev))
			if err != nil {
				continue
			}
			writeCtx, done := context.WithTimeout(readCtx, s.writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			done()
			if err != nil {
				s.logger.Debug("dropping slow websocket client", zap.Error(err))
				return
			}
		}
	}
}
