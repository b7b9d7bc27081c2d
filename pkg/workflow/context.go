// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"context"
	"time"

	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// Context is the API a workflow body programs against: run nodes and
// graphs, suspend on gates, emit events, and keep per-run state.
type Context struct {
	ctx    context.Context
	run    *Run
	runner *Runner
	ec     *node.ExecContext

	// State is scratch space owned by this run. Params are the
	// immutable per-run inputs; Input is the triggering payload.
	State  map[string]any
	Params map[string]any
	Input  any
}

// Ctx returns the underlying context for custom blocking work.
func (c *Context) Ctx() context.Context { return c.ctx }

// RunID returns the id of the enclosing run.
func (c *Context) RunID() string { return c.run.id }

// Checkpoint surfaces cancellation or budget exhaustion. Bodies call
// it inside loops between operations.
func (c *Context) Checkpoint() error {
	if err := c.ec.CheckCancelled(); err != nil {
		return err
	}
	return c.ec.CheckBudget()
}

// Run schedules one node or graph and awaits its result.
func (c *Context) Run(ref string, input any) (any, error) {
	if err := c.Checkpoint(); err != nil {
		return nil, err
	}
	kind := c.runner.exec.Kind(ref)
	if kind == "" {
		err := protocol.Errorf(protocol.KindNotFound, "no node or graph named %q", ref)
		c.emit("node_error", map[string]any{"ref": ref, "error": err.Error()})
		return nil, err
	}

	c.emit(kind+"_started", map[string]any{"ref": ref})
	out, err := c.runner.exec.Execute(c.ctx, ref, c.ec.WithInput(input))
	if err != nil {
		data := map[string]any{"ref": ref, "error": err.Error()}
		if protocol.IsKind(err, protocol.KindTimeout) {
			c.emit(kind+"_timeout", data)
		} else {
			c.emit(kind+"_error", data)
		}
		return nil, err
	}
	c.emit(kind+"_completed", map[string]any{"ref": ref})
	return out, nil
}

// Gate suspends the run until an external answer arrives. Choices nil
// means free-form input.
func (c *Context) Gate(prompt string, choices []string) (string, error) {
	return c.gate(Gate{Prompt: prompt, Choices: choices})
}

// GateTimeout is Gate with a deadline; expiry fails the gate with a
// timeout error.
func (c *Context) GateTimeout(prompt string, choices []string, timeout time.Duration) (string, error) {
	return c.gate(Gate{Prompt: prompt, Choices: choices, Timeout: timeout})
}

func (c *Context) gate(g Gate) (string, error) {
	if err := c.Checkpoint(); err != nil {
		return "", err
	}
	ch, err := c.run.armGate(&g)
	if err != nil {
		return "", err
	}
	data := map[string]any{"prompt": g.Prompt}
	if g.Choices != nil {
		data["choices"] = g.Choices
	}
	c.emit("gate_waiting", data)

	var timeout <-chan time.Time
	if g.Timeout > 0 {
		t := time.NewTimer(g.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case answer := <-ch:
		c.emit("gate_answered", map[string]any{"answer": answer})
		return answer, nil
	case <-timeout:
		// AnswerGate may have won the race with the timer; the caller
		// was told the answer was accepted, so honor it.
		if !c.run.disarmGate() {
			answer := <-ch
			c.emit("gate_answered", map[string]any{"answer": answer})
			return answer, nil
		}
		c.emit("gate_timeout", map[string]any{"prompt": g.Prompt, "timeout_ms": g.Timeout.Milliseconds()})
		return "", protocol.Errorf(protocol.KindTimeout, "gate timed out after %s", g.Timeout)
	case <-c.run.cancel.Done():
		c.run.disarmGate()
		c.emit("gate_cancelled", map[string]any{"prompt": g.Prompt})
		return "", protocol.NewError(protocol.KindCancelled, "operation cancelled")
	case <-c.ctx.Done():
		c.run.disarmGate()
		c.emit("gate_cancelled", map[string]any{"prompt": g.Prompt})
		return "", protocol.AsError(c.ctx.Err())
	}
}

// Emit appends a custom event to the run log and broadcasts it.
func (c *Context) Emit(eventType string, data map[string]any) {
	c.emit(eventType, data)
}

// RunWorkflow executes a nested workflow to completion. The child run
// shares this run's cancellation token and accounts usage into it.
func (c *Context) RunWorkflow(wf *Workflow, input any, params map[string]any) (any, error) {
	if err := c.Checkpoint(); err != nil {
		return nil, err
	}
	c.emit("nested_workflow_started", map[string]any{"workflow_id": wf.ID})

	child, err := c.runner.Start(c.ctx, wf, StartOptions{
		Input:  input,
		Params: params,
		Budget: c.ec.Budget,
		Usage:  c.ec.Usage,
		Cancel: c.run.cancel,
	})
	if err != nil {
		c.emit("nested_workflow_failed", map[string]any{"workflow_id": wf.ID, "error": err.Error()})
		return nil, err
	}
	if err := child.Wait(c.ctx); err != nil {
		return nil, err
	}
	result, err := child.Result()
	if err != nil {
		c.emit("nested_workflow_failed", map[string]any{
			"workflow_id":  wf.ID,
			"child_run_id": child.ID(),
			"error":        err.Error(),
		})
		return nil, err
	}
	c.emit("nested_workflow_completed", map[string]any{
		"workflow_id":  wf.ID,
		"child_run_id": child.ID(),
	})
	return result, nil
}

// emit appends to the run log and forwards a protocol event, keeping
// both in the same total order.
func (c *Context) emit(eventType string, data map[string]any) {
	c.runner.emit(c.run, c.run.workflowID, eventType, data)
}
