// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"time"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
)

// ExecContext is the immutable snapshot passed to Execute. The With*
// methods return shallow copies; callers never mutate a context another
// execution can see.
type ExecContext struct {
	Session        string
	Input          any
	Upstream       map[string]any
	ParserOverride string
	Timeout        time.Duration

	Budget *budget.Budget
	Usage  *budget.Usage
	Cancel *budget.CancelToken
	Trace  *Trace

	RunID         string
	ExecID        string
	CorrelationID string
}

// WithInput returns a copy carrying a new input.
func (ec *ExecContext) WithInput(input any) *ExecContext {
	c := *ec
	c.Input = input
	return &c
}

// WithUpstream returns a copy carrying upstream step results.
func (ec *ExecContext) WithUpstream(upstream map[string]any) *ExecContext {
	c := *ec
	c.Upstream = upstream
	return &c
}

// WithTimeout returns a copy with a new timeout.
func (ec *ExecContext) WithTimeout(d time.Duration) *ExecContext {
	c := *ec
	c.Timeout = d
	return &c
}

// WithExecID returns a copy tagged with an execution id.
func (ec *ExecContext) WithExecID(id string) *ExecContext {
	c := *ec
	c.ExecID = id
	return &c
}

// EffectiveTimeout picks the context timeout, falling back to def.
func (ec *ExecContext) EffectiveTimeout(def time.Duration) time.Duration {
	if ec != nil && ec.Timeout > 0 {
		return ec.Timeout
	}
	return def
}

// CheckCancelled returns the cancellation error if the context's token
// has been cancelled. Nil-safe.
func (ec *ExecContext) CheckCancelled() error {
	if ec == nil {
		return nil
	}
	return ec.Cancel.Err()
}

// CheckBudget returns a budget_exceeded error when usage has passed a
// limit. Nil-safe on every field.
func (ec *ExecContext) CheckBudget() error {
	if ec == nil || ec.Usage == nil || ec.Budget == nil {
		return nil
	}
	return ec.Usage.Check(ec.Budget)
}

// InputString renders the input as a string for terminal and bash
// nodes.
func (ec *ExecContext) InputString() string {
	if ec == nil || ec.Input == nil {
		return ""
	}
	if s, ok := ec.Input.(string); ok {
		return s
	}
	return stringify(ec.Input)
}
