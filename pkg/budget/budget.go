// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package budget provides per-execution resource limits, hierarchical
// usage accounting and cooperative cancellation.
package budget

import (
	"sync"
	"time"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// Budget holds optional resource limits. Zero means unlimited.
type Budget struct {
	MaxTokens      int64         `json:"max_tokens,omitempty"`
	MaxTime        time.Duration `json:"max_time,omitempty"`
	MaxSteps       int64         `json:"max_steps,omitempty"`
	MaxAPICalls    int64         `json:"max_api_calls,omitempty"`
	MaxCostDollars float64       `json:"max_cost_dollars,omitempty"`
}

// Usage accumulates resource counters. A Usage may have a parent; every
// increment propagates up the chain so nested sub-budgets enforce both
// local and ancestor limits. Counters never decrease.
type Usage struct {
	mu     sync.Mutex
	parent *Usage

	tokens   int64
	steps    int64
	apiCalls int64
	cost     float64

	// started is captured once; time.Since uses the monotonic reading.
	started time.Time
}

// NewUsage creates a usage tracker. parent may be nil.
func NewUsage(parent *Usage) *Usage {
	return &Usage{parent: parent, started: time.Now()}
}

// AddTokens increments the token counter here and in every ancestor.
func (u *Usage) AddTokens(n int64) {
	if n <= 0 {
		return
	}
	for c := u; c != nil; c = c.parent {
		c.mu.Lock()
		c.tokens += n
		c.mu.Unlock()
	}
}

// AddSteps increments the step counter here and in every ancestor.
func (u *Usage) AddSteps(n int64) {
	if n <= 0 {
		return
	}
	for c := u; c != nil; c = c.parent {
		c.mu.Lock()
		c.steps += n
		c.mu.Unlock()
	}
}

// AddAPICalls increments the API call counter here and in every ancestor.
func (u *Usage) AddAPICalls(n int64) {
	if n <= 0 {
		return
	}
	for c := u; c != nil; c = c.parent {
		c.mu.Lock()
		c.apiCalls += n
		c.mu.Unlock()
	}
}

// AddCost increments the dollar cost here and in every ancestor.
func (u *Usage) AddCost(d float64) {
	if d <= 0 {
		return
	}
	for c := u; c != nil; c = c.parent {
		c.mu.Lock()
		c.cost += d
		c.mu.Unlock()
	}
}

// Tokens returns the accumulated token count.
func (u *Usage) Tokens() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tokens
}

// Steps returns the accumulated step count.
func (u *Usage) Steps() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.steps
}

// APICalls returns the accumulated API call count.
func (u *Usage) APICalls() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.apiCalls
}

// Cost returns the accumulated dollar cost.
func (u *Usage) Cost() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cost
}

// Elapsed returns time since creation using the monotonic clock.
func (u *Usage) Elapsed() time.Duration {
	return time.Since(u.started)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Tokens    int64         `json:"tokens"`
	Steps     int64         `json:"steps"`
	APICalls  int64         `json:"api_calls"`
	CostUSD   float64       `json:"cost_usd"`
	ElapsedMs int64         `json:"elapsed_ms"`
	Elapsed   time.Duration `json:"-"`
}

// Snapshot returns a copy of the current counters.
func (u *Usage) Snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	elapsed := time.Since(u.started)
	return Snapshot{
		Tokens:    u.tokens,
		Steps:     u.steps,
		APICalls:  u.apiCalls,
		CostUSD:   u.cost,
		ElapsedMs: elapsed.Milliseconds(),
		Elapsed:   elapsed,
	}
}

// Exceeds reports whether any counter has reached a limit of b and
// names the offending counter. A nil budget never exceeds.
func (u *Usage) Exceeds(b *Budget) (string, bool) {
	if b == nil {
		return "", false
	}
	s := u.Snapshot()
	switch {
	case b.MaxTokens > 0 && s.Tokens > b.MaxTokens:
		return "max_tokens", true
	case b.MaxSteps > 0 && s.Steps > b.MaxSteps:
		return "max_steps", true
	case b.MaxAPICalls > 0 && s.APICalls > b.MaxAPICalls:
		return "max_api_calls", true
	case b.MaxCostDollars > 0 && s.CostUSD > b.MaxCostDollars:
		return "max_cost_dollars", true
	case b.MaxTime > 0 && s.Elapsed > b.MaxTime:
		return "max_time", true
	}
	return "", false
}

// Check converts a limit violation into a budget_exceeded error.
func (u *Usage) Check(b *Budget) error {
	if counter, over := u.Exceeds(b); over {
		return protocol.Errorf(protocol.KindBudgetExceeded, "budget exceeded: %s", counter).
			WithDetail("counter", counter)
	}
	return nil
}
