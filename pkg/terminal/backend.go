// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package terminal provides byte-pipe backends for terminal-bound
// processes: a PTY-fork backend and an attach-to-external-pane backend.
package terminal

import (
	"errors"
	"time"
)

// ErrNotStarted is returned by operations on a backend that has not
// been started or attached yet.
var ErrNotStarted = errors.New("terminal backend not started")

// ErrClosed is returned by operations on a stopped backend.
var ErrClosed = errors.New("terminal backend closed")

// Backend is the uniform byte I/O surface a terminal node drives.
type Backend interface {
	// Write delivers raw input. The caller is responsible for line
	// endings and control characters.
	Write(p []byte) error

	// ReadStream yields chunks as they arrive. The channel is closed
	// when the child terminates or the backend stops.
	ReadStream() <-chan []byte

	// Buffer returns the accumulated content (PTY) or a fresh snapshot
	// of the pane (attach).
	Buffer() string

	// ReadTail returns the last n lines of Buffer.
	ReadTail(n int) string

	// Interrupt delivers SIGINT to the foreground process.
	Interrupt() error

	// Resize sets the terminal dimensions.
	Resize(rows, cols uint16) error

	// Stop terminates gracefully, escalating to a forced kill after
	// timeout, and reaps the child.
	Stop(timeout time.Duration) error

	// Running reports whether the backend is live.
	Running() bool
}

// Focuser is implemented by attach backends that can bring their pane
// to the foreground.
type Focuser interface {
	Focus() error
}

// StartOptions configures a PTY spawn.
type StartOptions struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
	Rows    uint16
	Cols    uint16
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	end := len(s)
	// Ignore one trailing newline so "a\nb\n" has two lines, not three.
	if end > 0 && s[end-1] == '\n' {
		end--
	}
	seen := 0
	for i := end - 1; i >= 0; i-- {
		if s[i] == '\n' {
			seen++
			if seen == n {
				return s[i+1 : end]
			}
		}
	}
	return s[:end]
}
