// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package graph

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// NodeResolver maps node references to live nodes at execution time.
// Implemented by session.Session.
type NodeResolver interface {
	ResolveNode(id string) (node.Node, error)
}

// TaskStatus of one step.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// TaskResult is the outcome of one step.
type TaskResult struct {
	Status     TaskStatus `json:"status"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// Config tunes the executor.
type Config struct {
	MaxWorkers      int // default 4
	ContinueOnError bool
	Events          protocol.EventSink
	Logger          *zap.Logger
}

// Executor runs graphs with bounded parallelism.
type Executor struct {
	cfg Config
}

// NewExecutor creates an executor. Zero config fields take defaults.
func NewExecutor(cfg Config) *Executor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Events == nil {
		cfg.Events = protocol.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{cfg: cfg}
}

// run-scoped execution state.
type execution struct {
	ex       *Executor
	graph    *Graph
	resolver NodeResolver
	ec       *node.ExecContext

	mu       sync.Mutex
	results  map[string]TaskResult
	upstream map[string]any
	done     map[string]chan struct{}
	halted   error // first cancellation/budget error, stops scheduling

	// lastStepTokens estimates the cost of the next step from the
	// previous one, so a budget that cannot afford another comparable
	// step refuses before executing it.
	lastStepTokens int64
}

// Execute validates and runs the graph, returning the per-step result
// map. The map is returned alongside budget and cancellation errors so
// callers see partial progress.
func (e *Executor) Execute(ctx context.Context, g *Graph, resolver NodeResolver, ec *node.ExecContext) (map[string]TaskResult, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	if ec == nil {
		ec = &node.ExecContext{}
	}

	run := &execution{
		ex:       e,
		graph:    g,
		resolver: resolver,
		ec:       ec,
		results:  make(map[string]TaskResult, len(g.Steps)),
		upstream: make(map[string]any, len(g.Steps)),
		done:     make(map[string]chan struct{}, len(g.Steps)),
	}
	for _, id := range order {
		run.done[id] = make(chan struct{})
	}

	e.cfg.Events.Emit(protocol.NewEvent(protocol.EventDagStarted, "", ec.RunID, map[string]any{
		"graph_id": g.ID,
		"steps":    len(g.Steps),
	}))

	sem := semaphore.NewWeighted(int64(e.cfg.MaxWorkers))
	var wg sync.WaitGroup
	for _, id := range order {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.runStep(ctx, sem, id)
		}()
	}
	wg.Wait()

	run.mu.Lock()
	results := run.results
	halted := run.halted
	run.mu.Unlock()

	e.cfg.Events.Emit(protocol.NewEvent(protocol.EventDagCompleted, "", ec.RunID, map[string]any{
		"graph_id": g.ID,
		"results":  summarize(results),
	}))

	if halted != nil {
		return results, halted
	}
	return results, nil
}

// runStep waits for dependencies, applies skip/halt rules, then
// executes one step under the worker semaphore.
func (x *execution) runStep(ctx context.Context, sem *semaphore.Weighted, id string) {
	step := x.graph.step(id)
	defer close(x.done[id])

	// Await dependencies.
	for _, dep := range step.DependsOn {
		select {
		case <-x.done[dep]:
		case <-ctx.Done():
			x.finish(id, TaskResult{Status: TaskSkipped, Error: "context cancelled"})
			return
		}
	}

	x.mu.Lock()
	halted := x.halted
	skip := false
	if !x.ex.cfg.ContinueOnError {
		for _, dep := range step.DependsOn {
			if r, ok := x.results[dep]; ok && r.Status != TaskCompleted {
				skip = true
				break
			}
		}
	}
	lastTokens := x.lastStepTokens
	x.mu.Unlock()

	if halted != nil {
		x.finish(id, TaskResult{Status: TaskSkipped, Error: "execution halted"})
		return
	}
	if skip {
		x.finish(id, TaskResult{Status: TaskSkipped, Error: "upstream step failed"})
		return
	}

	// Cancellation and budget gates run before the step executes.
	if err := x.ec.CheckCancelled(); err != nil {
		x.halt(err)
		x.finish(id, TaskResult{Status: TaskSkipped, Error: "cancelled"})
		return
	}
	if err := x.checkBudget(lastTokens); err != nil {
		x.halt(err)
		x.finish(id, TaskResult{Status: TaskSkipped, Error: err.Error()})
		return
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		x.finish(id, TaskResult{Status: TaskSkipped, Error: "context cancelled"})
		return
	}
	defer sem.Release(1)

	x.execute(ctx, step)
}

// checkBudget enforces hard limits plus the can-we-afford-another-step
// token heuristic.
func (x *execution) checkBudget(lastTokens int64) error {
	ec := x.ec
	if ec.Usage == nil || ec.Budget == nil {
		return nil
	}
	if err := ec.Usage.Check(ec.Budget); err != nil {
		return err
	}
	if max := ec.Budget.MaxTokens; max > 0 && lastTokens > 0 {
		if ec.Usage.Tokens()+lastTokens > max {
			return protocol.Errorf(protocol.KindBudgetExceeded,
				"budget exceeded: max_tokens (projected %d > %d)",
				ec.Usage.Tokens()+lastTokens, max).
				WithDetail("counter", "max_tokens")
		}
	}
	return nil
}

func (x *execution) execute(ctx context.Context, step *Step) {
	x.mu.Lock()
	// Snapshot only the upstream entries this step depends on; outputs
	// of concurrent independent steps stay invisible.
	upstream := make(map[string]any, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		if v, ok := x.upstream[dep]; ok {
			upstream[dep] = v
		}
	}
	x.mu.Unlock()

	input, err := step.Input.Resolve(upstream)
	if err != nil {
		x.fail(step, nil, time.Now(), time.Now(), protocol.AsError(err))
		return
	}

	n, err := x.resolver.ResolveNode(step.NodeRef)
	if err != nil {
		x.fail(step, input, time.Now(), time.Now(), protocol.AsError(err))
		return
	}

	stepEC := x.ec.WithInput(input).WithUpstream(upstream)
	x.ex.cfg.Events.Emit(protocol.NewEvent(protocol.EventTaskStarted, step.NodeRef, x.ec.RunID, map[string]any{
		"graph_id": x.graph.ID,
		"step_id":  step.ID,
	}))

	if x.ec.Usage != nil {
		x.ec.Usage.AddSteps(1)
	}
	tokensBefore := int64(0)
	if x.ec.Usage != nil {
		tokensBefore = x.ec.Usage.Tokens()
	}

	start := time.Now()
	output, err := n.Execute(ctx, stepEC)
	end := time.Now()

	var tokensUsed int64
	if x.ec.Usage != nil {
		tokensUsed = x.ec.Usage.Tokens() - tokensBefore
	}

	if err != nil {
		if protocol.IsKind(err, protocol.KindCancelled) || protocol.IsKind(err, protocol.KindBudgetExceeded) {
			x.halt(err)
		}
		x.fail(step, input, start, end, protocol.AsError(err))
		return
	}

	x.mu.Lock()
	x.upstream[step.ID] = output
	x.results[step.ID] = TaskResult{
		Status:     TaskCompleted,
		Output:     output,
		DurationMs: end.Sub(start).Milliseconds(),
	}
	if tokensUsed > 0 {
		x.lastStepTokens = tokensUsed
	}
	x.mu.Unlock()

	x.ec.Trace.Add(node.StepTrace{
		StepID:     step.ID,
		NodeID:     step.NodeRef,
		NodeType:   n.Type(),
		Input:      input,
		Output:     output,
		Start:      start,
		End:        end,
		TokensUsed: tokensUsed,
	})
	x.ex.cfg.Events.Emit(protocol.NewEvent(protocol.EventTaskCompleted, step.NodeRef, x.ec.RunID, map[string]any{
		"graph_id":    x.graph.ID,
		"step_id":     step.ID,
		"duration_ms": end.Sub(start).Milliseconds(),
	}))
}

func (x *execution) fail(step *Step, input any, start, end time.Time, err *protocol.Error) {
	x.finish(step.ID, TaskResult{
		Status:     TaskFailed,
		Error:      err.Error(),
		DurationMs: end.Sub(start).Milliseconds(),
	})
	x.ec.Trace.Add(node.StepTrace{
		StepID:   step.ID,
		NodeID:   step.NodeRef,
		Input:    input,
		Error:    err.Error(),
		Start:    start,
		End:      end,
		Duration: end.Sub(start),
	})
	x.ex.cfg.Events.Emit(protocol.NewEvent(protocol.EventTaskFailed, step.NodeRef, x.ec.RunID, map[string]any{
		"graph_id": x.graph.ID,
		"step_id":  step.ID,
		"error":    err.Error(),
	}))
	x.ex.cfg.Logger.Warn("graph step failed",
		zap.String("graph", x.graph.ID),
		zap.String("step", step.ID),
		zap.Error(err),
	)
}

func (x *execution) finish(id string, r TaskResult) {
	x.mu.Lock()
	x.results[id] = r
	x.mu.Unlock()
}

func (x *execution) halt(err error) {
	x.mu.Lock()
	if x.halted == nil {
		x.halted = protocol.AsError(err)
	}
	x.mu.Unlock()
}

func summarize(results map[string]TaskResult) map[string]string {
	out := make(map[string]string, len(results))
	for id, r := range results {
		out[id] = string(r.Status)
	}
	return out
}
