// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package graph

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// mapResolver resolves node references from a fixed map.
type mapResolver map[string]node.Node

func (m mapResolver) ResolveNode(id string) (node.Node, error) {
	if n, ok := m[id]; ok {
		return n, nil
	}
	return nil, protocol.Errorf(protocol.KindNotFound, "node %q not found", id)
}

// captureSink records emitted events in order.
type captureSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (c *captureSink) Emit(e protocol.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureSink) types() []protocol.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func TestExecuteChainedMath(t *testing.T) {
	doubler := node.NewFunction("doubler", func(ctx context.Context, ec *node.ExecContext) (any, error) {
		n, err := strconv.Atoi(ec.InputString())
		if err != nil {
			return nil, err
		}
		return n * 2, nil
	}, true)
	resolver := mapResolver{
		"identity": node.NewIdentity("identity"),
		"doubler":  doubler,
	}

	g := &Graph{ID: "math", Steps: []Step{
		{ID: "seed", NodeRef: "identity", Input: Literal("21")},
		{ID: "double", NodeRef: "doubler", Input: Template("{seed}"), DependsOn: []string{"seed"}},
		{ID: "report", NodeRef: "identity", Input: Template("answer: {double}"), DependsOn: []string{"double"}},
	}}

	sink := &captureSink{}
	ex := NewExecutor(Config{Events: sink})
	trace := &node.Trace{}
	results, err := ex.Execute(context.Background(), g, resolver, &node.ExecContext{Trace: trace, RunID: "run-1"})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, TaskCompleted, results["seed"].Status)
	assert.Equal(t, 42, results["double"].Output)
	assert.Equal(t, "answer: 42", results["report"].Output)

	assert.Equal(t, []protocol.EventType{
		protocol.EventDagStarted,
		protocol.EventTaskStarted, protocol.EventTaskCompleted,
		protocol.EventTaskStarted, protocol.EventTaskCompleted,
		protocol.EventTaskStarted, protocol.EventTaskCompleted,
		protocol.EventDagCompleted,
	}, sink.types())

	require.Len(t, trace.Steps(), 3)
	assert.Equal(t, "seed", trace.Steps()[0].StepID)
}

func TestExecuteBoundedParallelism(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	mk := func(id string) node.Node {
		return node.NewFunction(id, func(ctx context.Context, ec *node.ExecContext) (any, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return id, nil
		}, true)
	}

	resolver := mapResolver{}
	g := &Graph{ID: "fanout"}
	for _, id := range []string{"a", "b", "c", "d"} {
		resolver[id] = mk(id)
		g.Steps = append(g.Steps, Step{ID: id, NodeRef: id, Input: Literal("x")})
	}

	ex := NewExecutor(Config{MaxWorkers: 2})
	results, err := ex.Execute(context.Background(), g, resolver, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for id, r := range results {
		assert.Equal(t, TaskCompleted, r.Status, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
	assert.GreaterOrEqual(t, peak, 2)
}

func TestExecuteFailureSkipsDependents(t *testing.T) {
	resolver := mapResolver{
		"identity": node.NewIdentity("identity"),
		"boom": node.NewFunction("boom", func(ctx context.Context, ec *node.ExecContext) (any, error) {
			return nil, protocol.NewError(protocol.KindBackendError, "command exploded")
		}, true),
	}
	g := &Graph{ID: "g", Steps: []Step{
		{ID: "a", NodeRef: "boom", Input: Literal("x")},
		{ID: "b", NodeRef: "identity", Input: Template("{a}"), DependsOn: []string{"a"}},
		{ID: "c", NodeRef: "identity", Input: Literal("independent")},
	}}

	ex := NewExecutor(Config{})
	results, err := ex.Execute(context.Background(), g, resolver, nil)
	require.NoError(t, err)

	assert.Equal(t, TaskFailed, results["a"].Status)
	assert.Contains(t, results["a"].Error, "command exploded")
	assert.Equal(t, TaskSkipped, results["b"].Status)
	assert.Equal(t, "upstream step failed", results["b"].Error)
	assert.Equal(t, TaskCompleted, results["c"].Status)
}

func TestExecuteContinueOnError(t *testing.T) {
	resolver := mapResolver{
		"identity": node.NewIdentity("identity"),
		"boom": node.NewFunction("boom", func(ctx context.Context, ec *node.ExecContext) (any, error) {
			return nil, protocol.NewError(protocol.KindBackendError, "nope")
		}, true),
	}
	g := &Graph{ID: "g", Steps: []Step{
		{ID: "a", NodeRef: "boom", Input: Literal("x")},
		{ID: "b", NodeRef: "identity", Input: Literal("still runs"), DependsOn: []string{"a"}},
	}}

	ex := NewExecutor(Config{ContinueOnError: true})
	results, err := ex.Execute(context.Background(), g, resolver, nil)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, results["a"].Status)
	assert.Equal(t, TaskCompleted, results["b"].Status)
	assert.Equal(t, "still runs", results["b"].Output)
}

func TestExecuteCancellationHaltsRun(t *testing.T) {
	token := budget.NewCancelToken()
	resolver := mapResolver{
		"identity": node.NewIdentity("identity"),
		"canceller": node.NewFunction("canceller", func(ctx context.Context, ec *node.ExecContext) (any, error) {
			token.Cancel()
			return "done", nil
		}, true),
	}
	g := &Graph{ID: "g", Steps: []Step{
		{ID: "a", NodeRef: "canceller", Input: Literal("x")},
		{ID: "b", NodeRef: "identity", Input: Literal("y"), DependsOn: []string{"a"}},
		{ID: "c", NodeRef: "identity", Input: Literal("z"), DependsOn: []string{"b"}},
	}}

	ex := NewExecutor(Config{})
	results, err := ex.Execute(context.Background(), g, resolver, &node.ExecContext{Cancel: token})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindCancelled))

	assert.Equal(t, TaskCompleted, results["a"].Status)
	assert.Equal(t, TaskSkipped, results["b"].Status)
	assert.Equal(t, TaskSkipped, results["c"].Status)
}

func TestExecuteBudgetRefusesUnaffordableStep(t *testing.T) {
	// Each step costs 200 tokens; a 1500-token budget affords seven of
	// them, and the eighth is refused before it runs.
	spender := node.NewFunction("spender", func(ctx context.Context, ec *node.ExecContext) (any, error) {
		ec.Usage.AddTokens(200)
		return "ok", nil
	}, true)
	resolver := mapResolver{"spender": spender}

	g := &Graph{ID: "g"}
	prev := ""
	for i := 1; i <= 10; i++ {
		step := Step{ID: "s" + strconv.Itoa(i), NodeRef: "spender", Input: Literal("x")}
		if prev != "" {
			step.DependsOn = []string{prev}
		}
		prev = step.ID
		g.Steps = append(g.Steps, step)
	}

	usage := budget.NewUsage(nil)
	ec := &node.ExecContext{
		Budget: &budget.Budget{MaxTokens: 1500},
		Usage:  usage,
	}
	ex := NewExecutor(Config{})
	results, err := ex.Execute(context.Background(), g, resolver, ec)
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindBudgetExceeded))

	completed, skipped := 0, 0
	for _, r := range results {
		switch r.Status {
		case TaskCompleted:
			completed++
		case TaskSkipped:
			skipped++
		}
	}
	assert.Equal(t, 7, completed)
	assert.Equal(t, 3, skipped)
	assert.Contains(t, results["s8"].Error, "budget exceeded")
	assert.EqualValues(t, 1400, usage.Tokens())
}

func TestExecuteUnknownNodeFailsStep(t *testing.T) {
	g := &Graph{ID: "g", Steps: []Step{
		{ID: "a", NodeRef: "ghost", Input: Literal("x")},
	}}
	ex := NewExecutor(Config{})
	results, err := ex.Execute(context.Background(), g, mapResolver{}, nil)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, results["a"].Status)
	assert.Contains(t, results["a"].Error, "not found")
}

func TestExecuteUpstreamIsolation(t *testing.T) {
	// A step only sees outputs of its declared dependencies.
	var seen map[string]any
	probe := node.NewFunction("probe", func(ctx context.Context, ec *node.ExecContext) (any, error) {
		seen = ec.Upstream
		return "ok", nil
	}, true)
	resolver := mapResolver{
		"identity": node.NewIdentity("identity"),
		"probe":    probe,
	}
	g := &Graph{ID: "g", Steps: []Step{
		{ID: "a", NodeRef: "identity", Input: Literal("A")},
		{ID: "b", NodeRef: "identity", Input: Literal("B"), DependsOn: []string{"a"}},
		{ID: "c", NodeRef: "probe", Input: Literal("x"), DependsOn: []string{"b"}},
	}}

	ex := NewExecutor(Config{})
	_, err := ex.Execute(context.Background(), g, resolver, nil)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Contains(t, seen, "b")
	assert.NotContains(t, seen, "a")
}
