// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package node defines the executable unit of a session: terminal
// processes, functions, shell commands, LLM conversations and MCP tool
// servers behind one Node interface.
package node

import (
	"context"
	"regexp"
	"sync"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// Type tags the node variant.
type Type string

const (
	TypeFunction         Type = "function"
	TypeTerminalPTY      Type = "terminal-pty"
	TypeTerminalAttached Type = "terminal-attached"
	TypeLLM              Type = "llm-single-shot"
	TypeChat             Type = "llm-chat"
	TypeBash             Type = "bash"
	TypeMCP              Type = "mcp"
	TypeIdentity         Type = "identity"
)

// State is the node lifecycle state. Transitions are monotonic except
// READY↔BUSY and ERROR→READY on recovery.
type State string

const (
	StateCreated  State = "CREATED"
	StateStarting State = "STARTING"
	StateReady    State = "READY"
	StateBusy     State = "BUSY"
	StateError    State = "ERROR"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// Node is the uniform execution surface.
type Node interface {
	ID() string
	Type() Type
	State() State
	Persistent() bool

	// Execute runs one unit of work. ec carries the input, budget and
	// cancellation scope.
	Execute(ctx context.Context, ec *ExecContext) (any, error)

	// Interrupt delivers a best-effort interrupt to the current
	// execution. Safe to call when idle.
	Interrupt() error

	// Stop releases owned resources. Idempotent.
	Stop() error
}

// ToolCapable nodes may be mounted into a chat node's tool catalog.
type ToolCapable interface {
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Forker is implemented by chat nodes.
type Forker interface {
	Fork(newID string) (Node, error)
}

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// ValidateName enforces the node and session naming policy: lowercase
// alphanumerics and hyphens, 1-32 characters, leading alphanumeric.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return protocol.Errorf(protocol.KindInvalidInput,
			"invalid name %q: must be 1-32 lowercase alphanumerics or hyphens", name)
	}
	return nil
}

// stateMachine is the embedded mutex-guarded state shared by all node
// implementations.
type stateMachine struct {
	mu    sync.Mutex
	state State
}

func (s *stateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stateMachine) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// transition moves from one of the allowed states to next; any other
// current state is an invalid_state error.
func (s *stateMachine) transition(next State, allowed ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range allowed {
		if s.state == a {
			s.state = next
			return nil
		}
	}
	return protocol.Errorf(protocol.KindInvalidState,
		"cannot transition from %s to %s", s.state, next)
}
