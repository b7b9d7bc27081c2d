// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package protocol defines the command/event envelope shared by all
// transports and the structured error surface.
package protocol

import "fmt"

// CommandType enumerates every command the engine dispatches. Each type
// maps to exactly one handler.
type CommandType string

const (
	// Session domain.
	CmdCreateSession CommandType = "CREATE_SESSION"
	CmdDeleteSession CommandType = "DELETE_SESSION"
	CmdListSessions  CommandType = "LIST_SESSIONS"
	CmdGetSession    CommandType = "GET_SESSION"
	CmdExportSession CommandType = "EXPORT_SESSION"
	CmdImportSession CommandType = "IMPORT_SESSION"

	// Node lifecycle domain.
	CmdCreateNode CommandType = "CREATE_NODE"
	CmdDeleteNode CommandType = "DELETE_NODE"
	CmdListNodes  CommandType = "LIST_NODES"
	CmdGetNode    CommandType = "GET_NODE"
	CmdForkNode   CommandType = "FORK_NODE"

	// Node interaction domain.
	CmdRunCommand    CommandType = "RUN_COMMAND"
	CmdExecuteInput  CommandType = "EXECUTE_INPUT"
	CmdSendInterrupt CommandType = "SEND_INTERRUPT"
	CmdWriteData     CommandType = "WRITE_DATA"
	CmdGetBuffer     CommandType = "GET_BUFFER"
	CmdGetHistory    CommandType = "GET_HISTORY"

	// Graph domain.
	CmdCreateGraph  CommandType = "CREATE_GRAPH"
	CmdDeleteGraph  CommandType = "DELETE_GRAPH"
	CmdListGraphs   CommandType = "LIST_GRAPHS"
	CmdExecuteGraph CommandType = "EXECUTE_GRAPH"

	// Workflow domain.
	CmdExecuteWorkflow CommandType = "EXECUTE_WORKFLOW"
	CmdListWorkflows   CommandType = "LIST_WORKFLOWS"
	CmdGetWorkflowRun  CommandType = "GET_WORKFLOW_RUN"
	CmdAnswerGate      CommandType = "ANSWER_GATE"
	CmdCancelWorkflow  CommandType = "CANCEL_WORKFLOW"

	// Read-only REPL introspection domain.
	CmdShow     CommandType = "SHOW"
	CmdDry      CommandType = "DRY"
	CmdValidate CommandType = "VALIDATE"
	CmdList     CommandType = "LIST"
	CmdRead     CommandType = "READ"
)

// Command is the request envelope decoded by every transport.
type Command struct {
	Type      CommandType    `json:"type"`
	Params    map[string]any `json:"params,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// CommandResult is the reply envelope.
type CommandResult struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     *Error `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// OK builds a successful result.
func OK(requestID string, data any) CommandResult {
	return CommandResult{Success: true, Data: data, RequestID: requestID}
}

// Fail builds a failed result from any error.
func Fail(requestID string, err error) CommandResult {
	return CommandResult{Success: false, Error: AsError(err), RequestID: requestID}
}

// Validate checks the envelope shape before dispatch.
func (c *Command) Validate() error {
	if c.Type == "" {
		return NewError(KindInvalidInput, "command type is required")
	}
	return nil
}

// String implements fmt.Stringer for logging.
func (c *Command) String() string {
	return fmt.Sprintf("%s(request_id=%s)", c.Type, c.RequestID)
}
