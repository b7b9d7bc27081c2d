// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// DefaultBashTimeout bounds a shell command when the context carries
// no timeout of its own.
const DefaultBashTimeout = 300 * time.Second

// BashNode runs one shell command per execution. Ephemeral.
type BashNode struct {
	stateMachine
	id  string
	cwd string
	env map[string]string

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewBash creates a bash node.
func NewBash(id, cwd string, env map[string]string) *BashNode {
	n := &BashNode{id: id, cwd: cwd, env: env}
	n.state = StateReady
	return n
}

func (n *BashNode) ID() string       { return n.id }
func (n *BashNode) Type() Type       { return TypeBash }
func (n *BashNode) Persistent() bool { return false }

// Execute runs ec.Input as a shell command and returns the captured
// result map. The timeout is honored strictly; an expired or
// interrupted command still returns the captured output.
func (n *BashNode) Execute(ctx context.Context, ec *ExecContext) (any, error) {
	if err := n.transition(StateBusy, StateReady); err != nil {
		return nil, err
	}
	defer n.setState(StateReady)

	if err := ec.CheckCancelled(); err != nil {
		return nil, err
	}

	command := ec.InputString()
	if command == "" {
		return nil, protocol.NewError(protocol.KindInvalidInput, "bash node requires a command string")
	}

	timeout := ec.EffectiveTimeout(DefaultBashTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n.cancelMu.Lock()
	n.cancel = cancel
	n.cancelMu.Unlock()
	defer func() {
		n.cancelMu.Lock()
		n.cancel = nil
		n.cancelMu.Unlock()
	}()

	// #nosec G204 -- running operator-supplied commands is the point
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if n.cwd != "" {
		cmd.Dir = n.cwd
	}
	cmd.Env = os.Environ()
	for k, v := range n.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result := map[string]any{
		"success":     err == nil,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"command":     command,
		"interrupted": false,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		switch runCtx.Err() {
		case context.DeadlineExceeded:
			result["interrupted"] = true
			result["error"] = "timeout after " + timeout.String()
			return result, protocol.Errorf(protocol.KindTimeout,
				"command timed out after %s", timeout)
		case context.Canceled:
			result["interrupted"] = true
			result["error"] = "interrupted"
			return result, protocol.NewError(protocol.KindCancelled, "command interrupted")
		}
		result["error"] = err.Error()
	}
	return result, nil
}

// Interrupt cancels the running subprocess.
func (n *BashNode) Interrupt() error {
	n.cancelMu.Lock()
	defer n.cancelMu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
	return nil
}

// Stop implements Node.
func (n *BashNode) Stop() error {
	_ = n.Interrupt()
	n.setState(StateStopped)
	return nil
}

// ListTools implements ToolCapable: one "bash" tool.
func (n *BashNode) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	return []ToolDefinition{{
		Name:        "bash",
		Description: "Run a shell command and return its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to run.",
				},
			},
			"required": []string{"command"},
		},
		OwnerNodeID: n.id,
	}}, nil
}

// CallTool implements ToolCapable.
func (n *BashNode) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if name != "bash" {
		return "", protocol.Errorf(protocol.KindNotFound, "unknown tool %q", name)
	}
	command, _ := args["command"].(string)
	out, err := n.Execute(ctx, &ExecContext{Input: command})
	if err != nil {
		return "", err
	}
	result := out.(map[string]any)
	text, _ := result["stdout"].(string)
	if errText, ok := result["stderr"].(string); ok && errText != "" {
		if text != "" {
			text += "\n"
		}
		text += errText
	}
	return text, nil
}
