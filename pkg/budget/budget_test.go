// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package budget

import (
	"sync"
	"testing"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageParentPropagation(t *testing.T) {
	root := NewUsage(nil)
	mid := NewUsage(root)
	leaf := NewUsage(mid)

	leaf.AddTokens(100)
	leaf.AddSteps(1)
	mid.AddAPICalls(2)
	leaf.AddCost(0.25)

	assert.Equal(t, int64(100), leaf.Tokens())
	assert.Equal(t, int64(100), mid.Tokens())
	assert.Equal(t, int64(100), root.Tokens())

	assert.Equal(t, int64(1), root.Steps())
	assert.Equal(t, int64(2), root.APICalls())
	assert.Equal(t, int64(0), leaf.APICalls())
	assert.InDelta(t, 0.25, root.Cost(), 1e-9)
}

func TestUsageExceeds(t *testing.T) {
	u := NewUsage(nil)
	b := &Budget{MaxTokens: 100, MaxSteps: 3}

	counter, over := u.Exceeds(b)
	assert.False(t, over, counter)

	u.AddTokens(100)
	_, over = u.Exceeds(b)
	assert.False(t, over, "at the limit is not over it")

	u.AddTokens(1)
	counter, over = u.Exceeds(b)
	assert.True(t, over)
	assert.Equal(t, "max_tokens", counter)

	err := u.Check(b)
	require.Error(t, err)
	assert.Equal(t, protocol.KindBudgetExceeded, protocol.KindOf(err))
	assert.Equal(t, "max_tokens", protocol.AsError(err).Details["counter"])
}

func TestUsageMonotone(t *testing.T) {
	u := NewUsage(nil)
	u.AddTokens(-5)
	u.AddSteps(-1)
	u.AddCost(-1.0)
	assert.Equal(t, int64(0), u.Tokens())
	assert.Equal(t, int64(0), u.Steps())
	assert.Equal(t, 0.0, u.Cost())
}

func TestUsageConcurrent(t *testing.T) {
	root := NewUsage(nil)
	child := NewUsage(root)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child.AddTokens(2)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), root.Tokens())
}

func TestNilBudgetNeverExceeds(t *testing.T) {
	u := NewUsage(nil)
	u.AddTokens(1 << 40)
	_, over := u.Exceeds(nil)
	assert.False(t, over)
	assert.NoError(t, u.Check(nil))
}

func TestCancelToken(t *testing.T) {
	tok := NewCancelToken()
	assert.False(t, tok.Cancelled())
	assert.NoError(t, tok.Err())

	tok.Cancel()
	tok.Cancel() // idempotent
	assert.True(t, tok.Cancelled())

	err := tok.Err()
	require.Error(t, err)
	assert.Equal(t, protocol.KindCancelled, protocol.KindOf(err))

	select {
	case <-tok.Done():
	default:
		t.Fatal("Done channel should be closed")
	}

	var nilTok *CancelToken
	assert.False(t, nilTok.Cancelled())
}
