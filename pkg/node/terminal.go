// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/history"
	"github.com/AgenticCurve/nerve-sub002/pkg/parser"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
	"github.com/AgenticCurve/nerve-sub002/pkg/terminal"
	"github.com/AgenticCurve/nerve-sub002/pkg/tokencount"
)

// TerminalConfig tunes readiness detection and history persistence.
// Zero fields take the defaults below.
type TerminalConfig struct {
	PollInterval   time.Duration // default 2s
	ReadyChecks    int           // consecutive positives required, default 2
	SettleDelay    time.Duration // default 500ms
	DefaultTimeout time.Duration // default 300s

	Parser  parser.Parser
	History *history.Writer
	Logger  *zap.Logger
}

func (c *TerminalConfig) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReadyChecks < 2 {
		c.ReadyChecks = 2
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 300 * time.Second
	}
	if c.Parser == nil {
		c.Parser = parser.NewNone()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// TerminalNode drives an interactive process through a byte backend
// and a dialect parser. Persistent.
type TerminalNode struct {
	stateMachine
	id      string
	session string
	typ     Type
	backend terminal.Backend
	cfg     TerminalConfig
}

// NewTerminal composes a backend with a parser. The node starts in
// CREATED; call Start to bring it to READY.
func NewTerminal(id, session string, typ Type, backend terminal.Backend, cfg TerminalConfig) *TerminalNode {
	cfg.applyDefaults()
	n := &TerminalNode{id: id, session: session, typ: typ, backend: backend, cfg: cfg}
	n.state = StateCreated
	return n
}

func (n *TerminalNode) ID() string       { return n.id }
func (n *TerminalNode) Type() Type       { return n.typ }
func (n *TerminalNode) Persistent() bool { return true }

// Backend exposes the underlying byte pipe for raw write and buffer
// commands.
func (n *TerminalNode) Backend() terminal.Backend { return n.backend }

// Start connects the backend: spawn for PTY-backed nodes, bind for
// attach-backed ones.
func (n *TerminalNode) Start(opts terminal.StartOptions) error {
	if err := n.transition(StateStarting, StateCreated); err != nil {
		return err
	}

	var err error
	switch b := n.backend.(type) {
	case interface{ Start(terminal.StartOptions) error }:
		err = b.Start(opts)
	case interface{ Attach() error }:
		err = b.Attach()
	default:
		err = protocol.NewError(protocol.KindBackendError, "backend cannot be started")
	}
	if err != nil {
		n.setState(StateError)
		return protocol.AsError(err)
	}
	n.setState(StateReady)
	return nil
}

// Execute writes the input, waits for the process to settle back to a
// prompt, and returns the parsed response. A timeout fails the
// execution without tearing down the backend.
func (n *TerminalNode) Execute(ctx context.Context, ec *ExecContext) (any, error) {
	p, err := n.activeParser(ec)
	if err != nil {
		return nil, err
	}
	if err := n.transition(StateBusy, StateReady, StateError); err != nil {
		return nil, err
	}
	// A node whose backend died mid-execution must stop advertising
	// READY; there is no process left to accept the next input.
	defer func() {
		if !n.backend.Running() {
			n.setState(StateStopped)
			return
		}
		n.setState(StateReady)
	}()

	if err := ec.CheckCancelled(); err != nil {
		return nil, err
	}

	input := ec.InputString()
	if err := n.backend.Write([]byte(input)); err != nil {
		return nil, protocol.AsError(err)
	}
	if seq := p.SubmitSequence(); len(seq) > 0 {
		if err := n.backend.Write(seq); err != nil {
			return nil, protocol.AsError(err)
		}
	}
	n.record("input", input, nil)

	timeout := ec.EffectiveTimeout(n.cfg.DefaultTimeout)
	if err := n.awaitReady(ctx, ec, p, timeout); err != nil {
		return nil, err
	}

	// Settle so the final frame is fully drawn before parsing.
	select {
	case <-time.After(n.cfg.SettleDelay):
	case <-ctx.Done():
		return nil, protocol.AsError(ctx.Err())
	}

	resp := p.Parse(n.backend.Buffer())
	if resp.Tokens == 0 {
		resp.Tokens = tokencount.Estimate(resp.Text())
	}
	if ec != nil && ec.Usage != nil {
		ec.Usage.AddTokens(int64(resp.Tokens))
	}

	n.record("output", resp.Text(), map[string]any{"tokens": resp.Tokens})
	return resp, nil
}

// awaitReady polls the parser until it reports ready for the required
// number of consecutive checks.
func (n *TerminalNode) awaitReady(ctx context.Context, ec *ExecContext, p parser.Parser, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return protocol.AsError(ctx.Err())
		case <-ec.Cancel.Done():
			return protocol.NewError(protocol.KindCancelled, "execution cancelled")
		case <-deadline.C:
			return protocol.Errorf(protocol.KindTimeout,
				"node %s did not become ready within %s", n.id, timeout).
				WithDetail("timeout_ms", timeout.Milliseconds())
		case <-ticker.C:
			if p.IsReady(n.backend.Buffer()) {
				consecutive++
				if consecutive >= n.cfg.ReadyChecks {
					return nil
				}
			} else {
				consecutive = 0
			}
		}
	}
}

func (n *TerminalNode) activeParser(ec *ExecContext) (parser.Parser, error) {
	if ec != nil && ec.ParserOverride != "" {
		p, err := parser.ByName(ec.ParserOverride)
		if err != nil {
			return nil, protocol.AsError(err)
		}
		return p, nil
	}
	return n.cfg.Parser, nil
}

// WriteRaw delivers bytes to the backend without a submit sequence or
// state change.
func (n *TerminalNode) WriteRaw(data []byte) error {
	return n.backend.Write(data)
}

// Buffer returns the backend's current content.
func (n *TerminalNode) Buffer() string { return n.backend.Buffer() }

// Stream exposes the backend's output chunks as they arrive. The
// channel closes when the backend stops.
func (n *TerminalNode) Stream() <-chan []byte { return n.backend.ReadStream() }

// Tail returns the last n lines of the buffer.
func (n *TerminalNode) Tail(lines int) string { return n.backend.ReadTail(lines) }

// Interrupt sends the backend interrupt. Safe when idle.
func (n *TerminalNode) Interrupt() error {
	n.record("interrupt", "", nil)
	return n.backend.Interrupt()
}

// Stop terminates the backend gracefully, then forcefully.
func (n *TerminalNode) Stop() error {
	if err := n.transition(StateStopping, StateCreated, StateReady, StateBusy, StateError); err != nil {
		// Already stopping or stopped.
		return nil
	}
	err := n.backend.Stop(5 * time.Second)
	n.setState(StateStopped)
	if err != nil {
		return protocol.AsError(err)
	}
	return nil
}

// record appends a best-effort history entry.
func (n *TerminalNode) record(kind, payload string, meta map[string]any) {
	if n.cfg.History == nil {
		return
	}
	n.cfg.History.Append(history.Record{
		SessionID: n.session,
		NodeID:    n.id,
		Kind:      kind,
		Input:     payload,
		Metadata:  meta,
	})
}
