// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// maxBufferBytes bounds the rolling buffer; older content is trimmed
// from the front at a line boundary.
const maxBufferBytes = 512 * 1024

// PTY spawns a child process inside a pseudo-terminal and accumulates
// its output into a rolling buffer.
type PTY struct {
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	file    *os.File
	buffer  strings.Builder
	stream  chan []byte
	started bool
	closed  bool
	waitErr chan error
}

// NewPTY creates an unstarted PTY backend.
func NewPTY(logger *zap.Logger) *PTY {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PTY{logger: logger}
}

// Start spawns the child and begins asynchronous reads.
func (p *PTY) Start(opts StartOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pty already started")
	}

	// #nosec G204 -- the engine spawns operator-configured commands
	cmd := exec.Command(opts.Command, opts.Args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	rows, cols := opts.Rows, opts.Cols
	if rows == 0 {
		rows = 40
	}
	if cols == 0 {
		cols = 120
	}

	file, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return fmt.Errorf("failed to start pty: %w", err)
	}

	p.cmd = cmd
	p.file = file
	p.started = true
	p.stream = make(chan []byte, 64)
	p.waitErr = make(chan error, 1)

	go p.readLoop()

	p.logger.Info("pty started",
		zap.String("command", opts.Command),
		zap.Strings("args", opts.Args),
		zap.Int("pid", cmd.Process.Pid),
	)
	return nil
}

// readLoop accumulates output and fans chunks out to the stream. It
// owns cmd.Wait so the child is reaped exactly once.
func (p *PTY) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.file.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.appendChunk(chunk)
		}
		if err != nil {
			// EIO is the normal PTY read error after child exit.
			break
		}
	}

	p.mu.Lock()
	close(p.stream)
	p.closed = true
	p.mu.Unlock()

	err := p.cmd.Wait()
	_ = p.file.Close()
	p.waitErr <- err

	p.logger.Debug("pty read loop finished", zap.Error(err))
}

func (p *PTY) appendChunk(chunk []byte) {
	p.mu.Lock()
	p.buffer.Write(chunk)
	if p.buffer.Len() > maxBufferBytes {
		s := p.buffer.String()
		cut := len(s) - maxBufferBytes
		if idx := strings.IndexByte(s[cut:], '\n'); idx >= 0 {
			cut += idx + 1
		}
		p.buffer.Reset()
		p.buffer.WriteString(s[cut:])
	}
	stream := p.stream
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}
	select {
	case stream <- chunk:
	default:
		// Slow consumer: the buffer still has the bytes.
	}
}

// Write implements Backend.
func (p *PTY) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	if p.closed {
		return ErrClosed
	}
	if _, err := p.file.Write(b); err != nil {
		return fmt.Errorf("pty write: %w", err)
	}
	return nil
}

// ReadStream implements Backend.
func (p *PTY) ReadStream() <-chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	return p.stream
}

// Buffer implements Backend.
func (p *PTY) Buffer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.String()
}

// ReadTail implements Backend.
func (p *PTY) ReadTail(n int) string {
	return tailLines(p.Buffer(), n)
}

// Interrupt implements Backend by writing ETX (0x03) to the PTY.
func (p *PTY) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	if p.closed {
		return nil
	}
	_, err := p.file.Write([]byte{0x03})
	return err
}

// Resize implements Backend.
func (p *PTY) Resize(rows, cols uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	if p.closed {
		return ErrClosed
	}
	return pty.Setsize(p.file, &pty.Winsize{Rows: rows, Cols: cols})
}

// Running implements Backend.
func (p *PTY) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.closed
}

// Stop implements Backend: SIGTERM, wait up to timeout, then SIGKILL.
func (p *PTY) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	cmd := p.cmd
	file := p.file
	p.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.waitErr:
		// Reaped by readLoop.
	case <-time.After(timeout):
		p.logger.Warn("pty child did not exit, killing", zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-p.waitErr
	}

	_ = file.Close()
	return nil
}
