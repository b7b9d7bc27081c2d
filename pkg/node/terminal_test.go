// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
	"github.com/AgenticCurve/nerve-sub002/pkg/history"
	"github.com/AgenticCurve/nerve-sub002/pkg/parser"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
	"github.com/AgenticCurve/nerve-sub002/pkg/terminal"
)

// fakeBackend is an in-memory terminal.Backend whose buffer the test
// controls.
type fakeBackend struct {
	mu         sync.Mutex
	buffer     string
	writes     [][]byte
	writeErr   error
	interrupts int
	stopped    bool
	started    bool
}

func (f *fakeBackend) Start(terminal.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeBackend) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

// die simulates the child exiting out from under the node.
func (f *fakeBackend) die() {
	f.mu.Lock()
	f.stopped = true
	f.writeErr = terminal.ErrClosed
	f.mu.Unlock()
}

func (f *fakeBackend) ReadStream() <-chan []byte {
	ch := make(chan []byte)
	close(ch)
	return ch
}

func (f *fakeBackend) Buffer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffer
}

func (f *fakeBackend) setBuffer(s string) {
	f.mu.Lock()
	f.buffer = s
	f.mu.Unlock()
}

func (f *fakeBackend) ReadTail(n int) string { return f.Buffer() }

func (f *fakeBackend) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeBackend) Resize(rows, cols uint16) error { return nil }

func (f *fakeBackend) Stop(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeBackend) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started && !f.stopped
}

// flakyReadyParser reports busy for the first misses polls, then ready.
type flakyReadyParser struct {
	mu     sync.Mutex
	misses int
	polls  int
}

func (p *flakyReadyParser) Name() string { return "flaky" }

func (p *flakyReadyParser) IsReady(buffer string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	return p.polls > p.misses
}

func (p *flakyReadyParser) Parse(buffer string) *parser.Response {
	return &parser.Response{
		Raw:        buffer,
		Sections:   []parser.Section{{Type: parser.SectionText, Content: buffer}},
		IsComplete: true,
		IsReady:    true,
	}
}

func (p *flakyReadyParser) SubmitSequence() []byte { return []byte("\n") }

func (p *flakyReadyParser) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func fastConfig(p parser.Parser, h *history.Writer) TerminalConfig {
	return TerminalConfig{
		PollInterval:   5 * time.Millisecond,
		ReadyChecks:    2,
		SettleDelay:    time.Millisecond,
		DefaultTimeout: 2 * time.Second,
		Parser:         p,
		History:        h,
	}
}

func TestTerminalExecute(t *testing.T) {
	backend := &fakeBackend{}
	p := &flakyReadyParser{misses: 3}
	n := NewTerminal("term-1", "default", TypeTerminalPTY, backend, fastConfig(p, nil))

	require.NoError(t, n.Start(terminal.StartOptions{Command: "fake"}))
	assert.Equal(t, StateReady, n.State())

	backend.setBuffer("the answer is 42")
	usage := budget.NewUsage(nil)
	out, err := n.Execute(context.Background(), &ExecContext{Input: "question", Usage: usage})
	require.NoError(t, err)

	resp := out.(*parser.Response)
	assert.Equal(t, "the answer is 42", resp.Text())
	assert.Greater(t, resp.Tokens, 0)
	assert.EqualValues(t, resp.Tokens, usage.Tokens())
	assert.Equal(t, StateReady, n.State())

	// Input then submit sequence.
	require.Len(t, backend.writes, 2)
	assert.Equal(t, "question", string(backend.writes[0]))
	assert.Equal(t, "\n", string(backend.writes[1]))

	// Readiness needed misses+ReadyChecks polls.
	assert.GreaterOrEqual(t, p.pollCount(), 5)
}

func TestTerminalExecuteTimeoutKeepsBackend(t *testing.T) {
	backend := &fakeBackend{}
	// Never ready.
	p := &flakyReadyParser{misses: 1 << 30}
	n := NewTerminal("term-1", "default", TypeTerminalPTY, backend, fastConfig(p, nil))
	require.NoError(t, n.Start(terminal.StartOptions{}))

	_, err := n.Execute(context.Background(), &ExecContext{
		Input:   "slow",
		Timeout: 40 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindTimeout))

	// The backend survives a timeout and the node is usable again.
	assert.True(t, backend.Running())
	assert.Equal(t, StateReady, n.State())
}

func TestTerminalExecuteDeadBackendStops(t *testing.T) {
	backend := &fakeBackend{}
	n := NewTerminal("term-1", "default", TypeTerminalPTY, backend, fastConfig(&flakyReadyParser{}, nil))
	require.NoError(t, n.Start(terminal.StartOptions{}))

	backend.die()

	_, err := n.Execute(context.Background(), &ExecContext{Input: "x"})
	require.Error(t, err)

	// No process left: the node must stop advertising READY.
	assert.Equal(t, StateStopped, n.State())

	_, err = n.Execute(context.Background(), &ExecContext{Input: "again"})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindInvalidState))
}

func TestTerminalExecuteRejectsUnstarted(t *testing.T) {
	n := NewTerminal("term-1", "default", TypeTerminalPTY, &fakeBackend{}, fastConfig(&flakyReadyParser{}, nil))
	_, err := n.Execute(context.Background(), &ExecContext{Input: "x"})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindInvalidState))
}

func TestTerminalExecuteCancelled(t *testing.T) {
	backend := &fakeBackend{}
	p := &flakyReadyParser{misses: 1 << 30}
	n := NewTerminal("term-1", "default", TypeTerminalPTY, backend, fastConfig(p, nil))
	require.NoError(t, n.Start(terminal.StartOptions{}))

	token := budget.NewCancelToken()
	done := make(chan error, 1)
	go func() {
		_, err := n.Execute(context.Background(), &ExecContext{Input: "x", Cancel: token})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	token.Cancel()

	err := <-done
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindCancelled))
}

func TestTerminalHistoryRecords(t *testing.T) {
	h := history.NewWriter(t.TempDir(), nil)
	defer h.Close()

	backend := &fakeBackend{}
	n := NewTerminal("term-1", "default", TypeTerminalPTY, backend, fastConfig(&flakyReadyParser{}, h))
	require.NoError(t, n.Start(terminal.StartOptions{}))

	backend.setBuffer("output text")
	_, err := n.Execute(context.Background(), &ExecContext{Input: "hello"})
	require.NoError(t, err)
	require.NoError(t, n.Interrupt())

	recs, err := h.Tail("default", "term-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "input", recs[0].Kind)
	assert.Equal(t, "hello", recs[0].Input)
	assert.Equal(t, "output", recs[1].Kind)
	assert.Equal(t, "interrupt", recs[2].Kind)
	assert.Equal(t, 1, backend.interrupts)
}

func TestTerminalStop(t *testing.T) {
	backend := &fakeBackend{}
	n := NewTerminal("term-1", "default", TypeTerminalPTY, backend, fastConfig(&flakyReadyParser{}, nil))
	require.NoError(t, n.Start(terminal.StartOptions{}))

	require.NoError(t, n.Stop())
	assert.Equal(t, StateStopped, n.State())
	assert.True(t, backend.stopped)

	// Idempotent.
	require.NoError(t, n.Stop())
}

func TestTerminalParserOverride(t *testing.T) {
	backend := &fakeBackend{}
	backend.setBuffer("raw buffer")
	n := NewTerminal("term-1", "default", TypeTerminalPTY, backend, fastConfig(&flakyReadyParser{misses: 1 << 30}, nil))
	require.NoError(t, n.Start(terminal.StartOptions{}))

	// The none parser is always ready regardless of the node default.
	out, err := n.Execute(context.Background(), &ExecContext{Input: "x", ParserOverride: "none"})
	require.NoError(t, err)
	resp := out.(*parser.Response)
	assert.Equal(t, "raw buffer", resp.Text())
}
