// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// RunnerConfig wires a runner's collaborators.
type RunnerConfig struct {
	Executor Executor
	Events   protocol.EventSink
	Logger   *zap.Logger

	// OnRun is invoked for every run the runner starts, including
	// nested ones, so the owning session can register them.
	OnRun func(*Run)
}

// Runner starts workflow runs as independently scheduled goroutines.
type Runner struct {
	exec   Executor
	events protocol.EventSink
	logger *zap.Logger
	onRun  func(*Run)

	// emitMu keeps run-log append and broadcast in one total order.
	emitMu sync.Mutex
}

// NewRunner creates a runner. Events and Logger default to no-ops.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Events == nil {
		cfg.Events = protocol.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{
		exec:   cfg.Executor,
		events: cfg.Events,
		logger: cfg.Logger,
		onRun:  cfg.OnRun,
	}
}

// StartOptions parameterize one run.
type StartOptions struct {
	RunID   string // allocated when empty
	Session string
	Input   any
	Params  map[string]any
	Budget  *budget.Budget
	Usage   *budget.Usage
	Cancel  *budget.CancelToken
}

// Start registers a run and launches the body on its own goroutine.
func (r *Runner) Start(ctx context.Context, wf *Workflow, opts StartOptions) (*Run, error) {
	if wf == nil || wf.Body == nil {
		return nil, protocol.NewError(protocol.KindInvalidInput, "workflow has no body")
	}
	runID := opts.RunID
	if runID == "" {
		runID = "run-" + uuid.NewString()
	}
	cancel := opts.Cancel
	if cancel == nil {
		cancel = budget.NewCancelToken()
	}
	usage := opts.Usage
	if usage == nil {
		usage = budget.NewUsage(nil)
	}

	run := newRun(runID, wf.ID, cancel, usage)
	if r.onRun != nil {
		r.onRun(run)
	}

	wctx := &Context{
		ctx:    ctx,
		run:    run,
		runner: r,
		ec: &node.ExecContext{
			Session: opts.Session,
			Budget:  opts.Budget,
			Usage:   usage,
			Cancel:  cancel,
			RunID:   runID,
		},
		State:  make(map[string]any),
		Params: opts.Params,
		Input:  opts.Input,
	}

	go r.drive(wf, run, wctx)
	return run, nil
}

func (r *Runner) drive(wf *Workflow, run *Run, wctx *Context) {
	run.begin()
	r.emit(run, wf.ID, "workflow_started", map[string]any{"workflow_id": wf.ID})

	result, err := wf.Body(wctx)

	// Terminal events precede finish so the log is complete by the
	// time Done unblocks waiters.
	switch {
	case err != nil && protocol.IsKind(err, protocol.KindCancelled):
		r.emit(run, wf.ID, "workflow_cancelled", nil)
		run.finish(RunCancelled, nil, err)
	case err == nil && run.cancel.Cancelled():
		// The body swallowed the signal; the run is still cancelled.
		r.emit(run, wf.ID, "workflow_cancelled", nil)
		run.finish(RunCancelled, nil, protocol.NewError(protocol.KindCancelled, "operation cancelled"))
	case err != nil:
		r.emit(run, wf.ID, "workflow_failed", map[string]any{"error": err.Error()})
		run.finish(RunFailed, nil, err)
		r.logger.Warn("workflow run failed",
			zap.String("workflow", wf.ID),
			zap.String("run", run.id),
			zap.Error(err),
		)
	default:
		r.emit(run, wf.ID, "workflow_completed", map[string]any{"result": result})
		run.finish(RunCompleted, result, nil)
	}
}

// emit appends one event to the run log and broadcasts the protocol
// envelope under a single lock so observers see the body's order.
func (r *Runner) emit(run *Run, workflowID, eventType string, data map[string]any) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	now := time.Now()
	run.appendEvent(RunEvent{Type: eventType, Data: data, Timestamp: now})

	payload := map[string]any{
		"event_type":  eventType,
		"workflow_id": workflowID,
		"run_id":      run.id,
	}
	for k, v := range data {
		payload[k] = v
	}
	r.events.Emit(protocol.Event{
		Type:      protocol.EventWorkflow,
		Data:      payload,
		RunID:     run.id,
		Timestamp: now,
	})
}
