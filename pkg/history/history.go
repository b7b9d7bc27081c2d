// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package history persists per-node interaction records as
// newline-delimited JSON. Persistence is best-effort: a failed write is
// logged and swallowed so it never fails the interaction that produced
// it.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one interaction appended to a node's log.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	NodeID    string         `json:"node_id"`
	Kind      string         `json:"kind"`
	Input     string         `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Writer appends records under root/<session>/<node>.ndjson, one file
// per node, created lazily.
type Writer struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// NewWriter creates a writer rooted at dir. The directory tree is
// created on first append.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		root:   dir,
		logger: logger,
		files:  map[string]*os.File{},
	}
}

// Root returns the base directory.
func (w *Writer) Root() string { return w.root }

// Append writes one record. Errors are logged, never returned.
func (w *Writer) Append(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		w.logger.Warn("history marshal failed",
			zap.String("node", rec.NodeID), zap.Error(err))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.file(rec.SessionID, rec.NodeID)
	if err != nil {
		w.logger.Warn("history open failed",
			zap.String("node", rec.NodeID), zap.Error(err))
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		w.logger.Warn("history write failed",
			zap.String("node", rec.NodeID), zap.Error(err))
	}
}

// file returns the open append handle for a node, creating directories
// and the file as needed. Caller holds w.mu.
func (w *Writer) file(sessionID, nodeID string) (*os.File, error) {
	key := sessionID + "/" + nodeID
	if f, ok := w.files[key]; ok {
		return f, nil
	}

	dir := filepath.Join(w.root, sanitize(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	path := filepath.Join(dir, sanitize(nodeID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	w.files[key] = f
	return f, nil
}

// Tail reads the last n records of a node's log. A missing file yields
// an empty slice, not an error.
func (w *Writer) Tail(sessionID, nodeID string, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	path := filepath.Join(w.root, sanitize(sessionID), sanitize(nodeID)+".ndjson")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	// Ring of the last n lines; logs are small enough to scan forward.
	ring := make([]Record, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Torn tail write from a crash; skip the line.
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history file: %w", err)
	}
	return ring, nil
}

// Close releases all open file handles.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, f := range w.files {
		_ = f.Close()
		delete(w.files, key)
	}
}

// sanitize keeps ids usable as path components.
func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
