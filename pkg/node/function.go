// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"
	"sync"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// Func is the callable a function node wraps.
type Func func(ctx context.Context, ec *ExecContext) (any, error)

// FunctionNode wraps a function. Ephemeral by default; the substrate
// for identity nodes, scripted transforms and test fakes.
type FunctionNode struct {
	stateMachine
	id         string
	typ        Type
	persistent bool
	fn         Func

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewFunction creates a function node.
func NewFunction(id string, fn Func, persistent bool) *FunctionNode {
	n := &FunctionNode{id: id, typ: TypeFunction, persistent: persistent, fn: fn}
	n.state = StateReady
	return n
}

// NewIdentity creates the reserved echo node registered in every
// session: it returns its input unchanged.
func NewIdentity(id string) *FunctionNode {
	n := NewFunction(id, func(ctx context.Context, ec *ExecContext) (any, error) {
		return ec.Input, nil
	}, true)
	n.typ = TypeIdentity
	return n
}

func (n *FunctionNode) ID() string       { return n.id }
func (n *FunctionNode) Type() Type       { return n.typ }
func (n *FunctionNode) Persistent() bool { return n.persistent }

// Execute implements Node.
func (n *FunctionNode) Execute(ctx context.Context, ec *ExecContext) (any, error) {
	if err := n.transition(StateBusy, StateReady); err != nil {
		return nil, err
	}
	defer n.setState(StateReady)

	if err := ec.CheckCancelled(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	n.cancelMu.Lock()
	n.cancel = cancel
	n.cancelMu.Unlock()
	defer func() {
		n.cancelMu.Lock()
		n.cancel = nil
		n.cancelMu.Unlock()
	}()

	out, err := n.fn(runCtx, ec)
	if err != nil {
		return nil, protocol.AsError(err)
	}
	return out, nil
}

// Interrupt cancels the in-flight invocation cooperatively.
func (n *FunctionNode) Interrupt() error {
	n.cancelMu.Lock()
	defer n.cancelMu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
	return nil
}

// Stop implements Node.
func (n *FunctionNode) Stop() error {
	_ = n.Interrupt()
	n.setState(StateStopped)
	return nil
}
