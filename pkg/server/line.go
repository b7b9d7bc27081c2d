// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// maxLineBytes bounds one command line on the socket transports.
const maxLineBytes = 4 * 1024 * 1024

// eventEnvelope is the wire shape events take on every transport.
type eventEnvelope struct {
	Type      string             `json:"type"`
	EventType protocol.EventType `json:"event_type"`
	NodeID    string             `json:"node_id,omitempty"`
	RunID     string             `json:"run_id,omitempty"`
	Data      map[string]any     `json:"data,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func envelope(ev protocol.Event) eventEnvelope {
	return eventEnvelope{
		Type:      "event",
		EventType: ev.Type,
		NodeID:    ev.NodeID,
		RunID:     ev.RunID,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	}
}

// serveLineConn handles one Unix or TCP connection: newline-delimited
// command envelopes in, result envelopes out, with broadcast events
// interleaved on the same stream. Commands on one connection are
// processed in arrival order.
func (s *Server) serveLineConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = conn.Write(append(data, '\n'))
		return err
	}

	events, cancel := s.hub.Subscribe()
	defer cancel()

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeJSON(envelope(ev)); err != nil {
					stop()
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd protocol.Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			_ = writeJSON(protocol.Fail("", protocol.Errorf(
				protocol.KindInvalidInput, "malformed command: %v", err)))
			continue
		}
		result := s.engine.Execute(connCtx, cmd)
		if err := writeJSON(result); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && connCtx.Err() == nil {
		s.logger.Debug("connection read ended", zap.Error(err))
	}
}

// acceptLoop accepts connections until the listener closes.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("accept ended", zap.Error(err))
			}
			return
		}
		go s.serveLineConn(ctx, conn)
	}
}
