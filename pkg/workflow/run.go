// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// RunState enumerates the workflow run state machine.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunWaiting   RunState = "waiting"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether the state is absorbing.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Gate is a suspension point awaiting an external answer. Choices nil
// means free-form; a non-empty list restricts the answer.
type Gate struct {
	Prompt  string        `json:"prompt"`
	Choices []string      `json:"choices,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// RunEvent is one entry of a run's append-only event log.
type RunEvent struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Run is one execution of a workflow. All fields are guarded; a run in
// waiting has exactly one pending gate, any other state has none.
type Run struct {
	id         string
	workflowID string
	cancel     *budget.CancelToken
	usage      *budget.Usage

	mu          sync.Mutex
	state       RunState
	pendingGate *Gate
	answerCh    chan string
	events      []RunEvent
	result      any
	err         *protocol.Error
	started     time.Time
	ended       time.Time

	done chan struct{}
}

func newRun(id, workflowID string, cancel *budget.CancelToken, usage *budget.Usage) *Run {
	return &Run{
		id:         id,
		workflowID: workflowID,
		cancel:     cancel,
		usage:      usage,
		state:      RunPending,
		done:       make(chan struct{}),
	}
}

func (r *Run) ID() string         { return r.id }
func (r *Run) WorkflowID() string { return r.workflowID }

// State returns the current run state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PendingGate returns a copy of the gate the run is waiting on, or nil.
func (r *Run) PendingGate() *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingGate == nil {
		return nil
	}
	g := *r.pendingGate
	return &g
}

// Events returns a copy of the append-only event log.
func (r *Run) Events() []RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Result returns the outcome once the run is terminal.
func (r *Run) Result() (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.result, r.err
	}
	return r.result, nil
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is terminal or ctx expires.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return protocol.AsError(ctx.Err())
	}
}

// Cancel signals the run's cooperative cancellation token. Gates and
// checkpoints observe it; terminal runs ignore it.
func (r *Run) Cancel() {
	r.cancel.Cancel()
}

// CancelToken exposes the run's token so child executions share it.
func (r *Run) CancelToken() *budget.CancelToken { return r.cancel }

// Usage exposes the run's resource accounting.
func (r *Run) Usage() *budget.Usage { return r.usage }

// AnswerGate delivers an answer to the pending gate. Valid only while
// the run is waiting; the answer must be one of the gate's choices when
// the gate restricts them.
func (r *Run) AnswerGate(answer string) error {
	r.mu.Lock()
	if r.state != RunWaiting || r.pendingGate == nil {
		state := r.state
		r.mu.Unlock()
		return protocol.Errorf(protocol.KindInvalidState,
			"no gate pending: run %s is %s", r.id, state)
	}
	g := r.pendingGate
	if len(g.Choices) > 0 && !slices.Contains(g.Choices, answer) {
		r.mu.Unlock()
		return protocol.Errorf(protocol.KindInvalidInput,
			"answer %q is not one of the gate choices", answer)
	}
	ch := r.answerCh
	r.pendingGate = nil
	r.answerCh = nil
	r.state = RunRunning
	r.mu.Unlock()

	ch <- answer // buffered; never blocks
	return nil
}

// armGate installs the pending gate and returns the answer channel.
func (r *Run) armGate(g *Gate) (<-chan string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunRunning {
		return nil, protocol.Errorf(protocol.KindInvalidState,
			"cannot gate: run %s is %s", r.id, r.state)
	}
	ch := make(chan string, 1)
	r.pendingGate = g
	r.answerCh = ch
	r.state = RunWaiting
	return ch, nil
}

// disarmGate clears an unanswered gate after timeout or cancellation.
// It reports whether the gate was still armed; false means AnswerGate
// won concurrently and the answer is on (or on its way to) the channel.
func (r *Run) disarmGate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.answerCh == nil {
		return false
	}
	r.pendingGate = nil
	r.answerCh = nil
	if r.state == RunWaiting {
		r.state = RunRunning
	}
	return true
}

// begin transitions pending → running and stamps the start time.
func (r *Run) begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RunPending {
		r.state = RunRunning
		r.started = time.Now()
	}
}

// finish moves the run into a terminal state exactly once.
func (r *Run) finish(state RunState, result any, err error) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = state
	r.pendingGate = nil
	r.answerCh = nil
	r.result = result
	if err != nil {
		r.err = protocol.AsError(err)
	}
	r.ended = time.Now()
	r.mu.Unlock()
	close(r.done)
}

// appendEvent records one event in the run log.
func (r *Run) appendEvent(ev RunEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Info is the serializable view of a run returned to clients.
type Info struct {
	RunID       string          `json:"run_id"`
	WorkflowID  string          `json:"workflow_id"`
	State       RunState        `json:"state"`
	PendingGate *Gate           `json:"pending_gate,omitempty"`
	Events      []RunEvent      `json:"events"`
	Result      any             `json:"result,omitempty"`
	Error       *protocol.Error `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	EndedAt     time.Time       `json:"ended_at,omitzero"`
	Usage       budget.Snapshot `json:"usage"`
}

// Info snapshots the run for transport.
func (r *Run) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := Info{
		RunID:      r.id,
		WorkflowID: r.workflowID,
		State:      r.state,
		Events:     slices.Clone(r.events),
		Result:     r.result,
		Error:      r.err,
		StartedAt:  r.started,
		EndedAt:    r.ended,
	}
	if r.pendingGate != nil {
		g := *r.pendingGate
		info.PendingGate = &g
	}
	if r.usage != nil {
		info.Usage = r.usage.Snapshot()
	}
	return info
}
