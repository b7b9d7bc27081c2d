// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package node

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StepTrace records one step execution for offline inspection.
type StepTrace struct {
	StepID     string        `json:"step_id"`
	NodeID     string        `json:"node_id"`
	NodeType   Type          `json:"node_type"`
	Input      any           `json:"input,omitempty"`
	Output     any           `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	DurationMs int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
	TokensUsed int64         `json:"tokens_used,omitempty"`
}

// Trace aggregates step traces across one graph or workflow run.
type Trace struct {
	mu    sync.Mutex
	steps []StepTrace
}

// NewTrace creates an empty trace.
func NewTrace() *Trace { return &Trace{} }

// Add appends one step trace. Nil-safe so call sites don't need to
// guard on tracing being enabled.
func (t *Trace) Add(st StepTrace) {
	if t == nil {
		return
	}
	if st.DurationMs == 0 && !st.End.IsZero() {
		st.Duration = st.End.Sub(st.Start)
		st.DurationMs = st.Duration.Milliseconds()
	}
	t.mu.Lock()
	t.steps = append(t.steps, st)
	t.mu.Unlock()
}

// Steps returns a copy of the recorded traces.
func (t *Trace) Steps() []StepTrace {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepTrace, len(t.steps))
	copy(out, t.steps)
	return out
}

// TotalTokens sums tokens across all steps.
func (t *Trace) TotalTokens() int64 {
	var total int64
	for _, st := range t.Steps() {
		total += st.TokensUsed
	}
	return total
}

// Explain renders a human-readable dump of the trace.
func (t *Trace) Explain() string {
	steps := t.Steps()
	if len(steps) == 0 {
		return "trace: no steps recorded\n"
	}

	var b strings.Builder
	var totalMs, totalTokens int64
	fmt.Fprintf(&b, "trace: %d steps\n", len(steps))
	for i, st := range steps {
		status := "ok"
		if st.Error != "" {
			status = "error: " + st.Error
		}
		fmt.Fprintf(&b, "%3d. %s node=%s(%s) %dms tokens=%d %s\n",
			i+1, st.StepID, st.NodeID, st.NodeType, st.DurationMs, st.TokensUsed, status)
		totalMs += st.DurationMs
		totalTokens += st.TokensUsed
	}
	fmt.Fprintf(&b, "total: %dms, %d tokens\n", totalMs, totalTokens)
	return b.String()
}

// stringify renders an arbitrary value as text, preferring JSON for
// structured values.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case error:
		return s.Error()
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}
