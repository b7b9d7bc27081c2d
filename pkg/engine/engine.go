// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package engine dispatches protocol commands to their handlers. One
// Engine owns the session registry, the proxy manager and the static
// workflow catalog; every transport funnels into Execute.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/graph"
	"github.com/AgenticCurve/nerve-sub002/pkg/history"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
	"github.com/AgenticCurve/nerve-sub002/pkg/proxy"
	"github.com/AgenticCurve/nerve-sub002/pkg/session"
	"github.com/AgenticCurve/nerve-sub002/pkg/workflow"
)

// Config wires the engine's collaborators. Zero fields take defaults.
type Config struct {
	ServerName string
	Events     protocol.EventSink
	Logger     *zap.Logger
	History    *history.Writer
	Proxies    *proxy.Manager

	// GraphWorkers bounds parallel graph steps. Default 4.
	GraphWorkers int

	// Terminal carries readiness tunables applied to every terminal
	// node the engine creates. Parser and History are set per node.
	Terminal node.TerminalConfig
}

// Engine is the single command entry point.
type Engine struct {
	cfg      Config
	registry *session.Registry
	proxies  *proxy.Manager

	mu        sync.Mutex
	workflows map[string]*workflow.Workflow
}

// New creates an engine with its default session ready.
func New(cfg Config) *Engine {
	if cfg.Events == nil {
		cfg.Events = protocol.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "nerve"
	}
	if cfg.Proxies == nil {
		cfg.Proxies = proxy.NewManager(proxy.ManagerConfig{Logger: cfg.Logger})
	}

	executor := graph.NewExecutor(graph.Config{
		MaxWorkers: cfg.GraphWorkers,
		Events:     cfg.Events,
		Logger:     cfg.Logger,
	})
	registry := session.NewRegistry(session.Config{
		ServerName: cfg.ServerName,
		Events:     cfg.Events,
		Logger:     cfg.Logger,
		Executor:   executor,
		History:    cfg.History,
	})

	return &Engine{
		cfg:       cfg,
		registry:  registry,
		proxies:   cfg.Proxies,
		workflows: make(map[string]*workflow.Workflow),
	}
}

// Registry exposes the session registry for transports and tests.
func (e *Engine) Registry() *session.Registry { return e.registry }

// RegisterWorkflow adds a workflow body to the static catalog and to
// every existing session. Call before serving; new sessions receive
// the catalog on creation.
func (e *Engine) RegisterWorkflow(wf *workflow.Workflow) error {
	if wf == nil || wf.ID == "" || wf.Body == nil {
		return protocol.NewError(protocol.KindInvalidInput, "workflow needs an id and a body")
	}
	e.mu.Lock()
	if _, exists := e.workflows[wf.ID]; exists {
		e.mu.Unlock()
		return protocol.Errorf(protocol.KindConflict, "workflow %q already registered", wf.ID)
	}
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	for _, s := range e.registry.List() {
		if err := s.RegisterWorkflow(wf); err != nil {
			e.cfg.Logger.Warn("workflow registration skipped",
				zap.String("session", s.Name()),
				zap.String("workflow", wf.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// seedWorkflows installs the static catalog into a fresh session.
func (e *Engine) seedWorkflows(s *session.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, wf := range e.workflows {
		_ = s.RegisterWorkflow(wf)
	}
}

// Execute routes one command to its handler and wraps the outcome in a
// result envelope. It never panics a transport: handler errors come
// back as failed results.
func (e *Engine) Execute(ctx context.Context, cmd protocol.Command) protocol.CommandResult {
	if err := cmd.Validate(); err != nil {
		return protocol.Fail(cmd.RequestID, err)
	}
	p := Params(cmd.Params)

	var (
		data any
		err  error
	)
	switch cmd.Type {
	case protocol.CmdCreateSession:
		data, err = e.createSession(p)
	case protocol.CmdDeleteSession:
		data, err = e.deleteSession(p)
	case protocol.CmdListSessions:
		data, err = e.listSessions(p)
	case protocol.CmdGetSession:
		data, err = e.getSession(p)
	case protocol.CmdExportSession:
		data, err = e.exportSession(p)
	case protocol.CmdImportSession:
		data, err = e.importSession(ctx, p)

	case protocol.CmdCreateNode:
		data, err = e.createNode(ctx, p)
	case protocol.CmdDeleteNode:
		data, err = e.deleteNode(p)
	case protocol.CmdListNodes:
		data, err = e.listNodes(p)
	case protocol.CmdGetNode:
		data, err = e.getNode(p)
	case protocol.CmdForkNode:
		data, err = e.forkNode(p)

	case protocol.CmdRunCommand:
		data, err = e.runCommand(ctx, p)
	case protocol.CmdExecuteInput:
		data, err = e.executeInput(ctx, p)
	case protocol.CmdSendInterrupt:
		data, err = e.sendInterrupt(p)
	case protocol.CmdWriteData:
		data, err = e.writeData(p)
	case protocol.CmdGetBuffer:
		data, err = e.getBuffer(p)
	case protocol.CmdGetHistory:
		data, err = e.getHistory(p)

	case protocol.CmdCreateGraph:
		data, err = e.createGraph(p)
	case protocol.CmdDeleteGraph:
		data, err = e.deleteGraph(p)
	case protocol.CmdListGraphs:
		data, err = e.listGraphs(p)
	case protocol.CmdExecuteGraph:
		data, err = e.executeGraph(ctx, p)

	case protocol.CmdExecuteWorkflow:
		data, err = e.executeWorkflow(ctx, p)
	case protocol.CmdListWorkflows:
		data, err = e.listWorkflows(p)
	case protocol.CmdGetWorkflowRun:
		data, err = e.getWorkflowRun(p)
	case protocol.CmdAnswerGate:
		data, err = e.answerGate(p)
	case protocol.CmdCancelWorkflow:
		data, err = e.cancelWorkflow(p)

	case protocol.CmdShow:
		data, err = e.replShow(p)
	case protocol.CmdDry:
		data, err = e.replDry(p)
	case protocol.CmdValidate:
		data, err = e.replValidate(p)
	case protocol.CmdList:
		data, err = e.replList(p)
	case protocol.CmdRead:
		data, err = e.getHistory(p)

	default:
		err = protocol.Errorf(protocol.KindInvalidInput, "unknown command type %q", cmd.Type)
	}

	if err != nil {
		e.cfg.Logger.Debug("command failed",
			zap.String("type", string(cmd.Type)),
			zap.Error(err),
		)
		return protocol.Fail(cmd.RequestID, err)
	}
	return protocol.OK(cmd.RequestID, data)
}

// resolve finds the addressed session; an empty session parameter
// means the default session.
func (e *Engine) resolve(p Params) (*session.Session, error) {
	return e.registry.Resolve(p.StringOr("session", ""))
}

// Shutdown stops every session, node, run and proxy.
func (e *Engine) Shutdown() {
	e.registry.StopAll()
	e.proxies.StopAll()
	if e.cfg.History != nil {
		e.cfg.History.Close()
	}
	e.cfg.Logger.Info("engine stopped")
}
