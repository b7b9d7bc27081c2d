// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package protocol

import "time"

// EventType enumerates engine events. Workflow-level event types are
// free-form strings carried in Data["event_type"] under EventWorkflow.
type EventType string

const (
	EventSessionCreated EventType = "SESSION_CREATED"
	EventSessionDeleted EventType = "SESSION_DELETED"

	EventNodeCreated  EventType = "NODE_CREATED"
	EventNodeDeleted  EventType = "NODE_DELETED"
	EventNodeBusy     EventType = "NODE_BUSY"
	EventNodeReady    EventType = "NODE_READY"
	EventNodeError    EventType = "NODE_ERROR"
	EventOutputChunk  EventType = "OUTPUT_CHUNK"
	EventOutputParsed EventType = "OUTPUT_PARSED"

	EventDagStarted    EventType = "DAG_STARTED"
	EventTaskStarted   EventType = "TASK_STARTED"
	EventTaskCompleted EventType = "TASK_COMPLETED"
	EventTaskFailed    EventType = "TASK_FAILED"
	EventDagCompleted  EventType = "DAG_COMPLETED"

	// EventWorkflow carries the workflow event taxonomy
	// (workflow_started, gate_waiting, node_completed, ...) in
	// Data["event_type"].
	EventWorkflow EventType = "WORKFLOW_EVENT"
)

// Event is broadcast to every connected client.
type Event struct {
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives events from the engine and its components.
// Implementations must not block.
type EventSink interface {
	Emit(ev Event)
}

// NewEvent stamps an event with the current wall-clock time.
func NewEvent(t EventType, nodeID, runID string, data map[string]any) Event {
	return Event{Type: t, Data: data, NodeID: nodeID, RunID: runID, Timestamp: time.Now()}
}

// NopSink discards events. Useful as a default and in tests.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}
