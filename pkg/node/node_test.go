// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

func newCancelledToken() *budget.CancelToken {
	token := budget.NewCancelToken()
	token.Cancel()
	return token
}

func TestValidateName(t *testing.T) {
	valid := []string{"a", "worker", "my-node-2", "0abc", strings.Repeat("x", 32)}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{"", "UPPER", "has_underscore", "-leading", "dot.ted",
		strings.Repeat("x", 33), "spa ce"}
	for _, name := range invalid {
		err := ValidateName(name)
		require.Error(t, err, name)
		assert.True(t, protocol.IsKind(err, protocol.KindInvalidInput), name)
	}
}

func TestIdentityNodeEchoesInput(t *testing.T) {
	n := NewIdentity("identity")
	assert.Equal(t, TypeIdentity, n.Type())
	assert.True(t, n.Persistent())
	assert.Equal(t, StateReady, n.State())

	out, err := n.Execute(context.Background(), &ExecContext{Input: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ping", out)
	assert.Equal(t, StateReady, n.State())
}

func TestFunctionNodeRejectsWhenBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	n := NewFunction("slow", func(ctx context.Context, ec *ExecContext) (any, error) {
		close(started)
		<-release
		return nil, nil
	}, false)

	go n.Execute(context.Background(), &ExecContext{}) //nolint:errcheck
	<-started

	_, err := n.Execute(context.Background(), &ExecContext{})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindInvalidState))
	close(release)
}

func TestFunctionNodeInterrupt(t *testing.T) {
	n := NewFunction("wait", func(ctx context.Context, ec *ExecContext) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, false)

	done := make(chan error, 1)
	go func() {
		_, err := n.Execute(context.Background(), &ExecContext{})
		done <- err
	}()

	// Spin until the invocation registered its cancel func.
	for {
		n.cancelMu.Lock()
		registered := n.cancel != nil
		n.cancelMu.Unlock()
		if registered {
			break
		}
	}
	require.NoError(t, n.Interrupt())

	err := <-done
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindCancelled))
}

func TestFunctionNodeCancelledToken(t *testing.T) {
	n := NewIdentity("identity")
	ec := &ExecContext{Input: "x"}
	token := newCancelledToken()
	ec.Cancel = token

	_, err := n.Execute(context.Background(), ec)
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindCancelled))
}

func TestExecContextCopyOnWrite(t *testing.T) {
	base := &ExecContext{Input: "a", Session: "default"}
	derived := base.WithInput("b")

	assert.Equal(t, "a", base.Input)
	assert.Equal(t, "b", derived.Input)
	assert.Equal(t, "default", derived.Session)

	timed := base.WithTimeout(5)
	assert.Zero(t, base.Timeout)
	assert.EqualValues(t, 5, timed.Timeout)
}

func TestTraceExplain(t *testing.T) {
	tr := NewTrace()
	tr.Add(StepTrace{StepID: "s1", NodeID: "bash-1", NodeType: TypeBash, DurationMs: 12, TokensUsed: 100})
	tr.Add(StepTrace{StepID: "s2", NodeID: "llm-1", NodeType: TypeChat, DurationMs: 30, TokensUsed: 250, Error: "boom"})

	out := tr.Explain()
	assert.Contains(t, out, "2 steps")
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "error: boom")
	assert.Contains(t, out, "total: 42ms, 350 tokens")
	assert.EqualValues(t, 350, tr.TotalTokens())

	var nilTrace *Trace
	nilTrace.Add(StepTrace{}) // must not panic
	assert.Nil(t, nilTrace.Steps())
}
