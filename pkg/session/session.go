// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package session owns the mutable registry of nodes, graphs,
// workflows and runs, and the execution choreography around them.
package session

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/graph"
	"github.com/AgenticCurve/nerve-sub002/pkg/history"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/parser"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
	"github.com/AgenticCurve/nerve-sub002/pkg/workflow"
)

// IdentityNodeID is reserved in every session for the echo node.
const IdentityNodeID = "identity"

// Config carries the collaborators every session shares.
type Config struct {
	ServerName string
	Events     protocol.EventSink
	Logger     *zap.Logger
	Executor   *graph.Executor
	History    *history.Writer
}

func (c Config) withDefaults() Config {
	if c.Events == nil {
		c.Events = protocol.NopSink{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Executor == nil {
		c.Executor = graph.NewExecutor(graph.Config{Events: c.Events, Logger: c.Logger})
	}
	return c
}

// Session is one isolated namespace of nodes, graphs, workflows and
// runs. Nodes are owned exclusively by their session.
type Session struct {
	name string
	cfg  Config

	mu        sync.RWMutex
	nodes     map[string]node.Node
	nodeSpecs map[string]map[string]any
	graphs    map[string]*graph.Graph
	workflows map[string]*workflow.Workflow
	runs      map[string]*workflow.Run
	stopped   bool
}

// New creates a session with the reserved identity node registered.
func New(name string, cfg Config) (*Session, error) {
	if err := node.ValidateName(name); err != nil {
		return nil, err
	}
	s := &Session{
		name:      name,
		cfg:       cfg.withDefaults(),
		nodes:     make(map[string]node.Node),
		nodeSpecs: make(map[string]map[string]any),
		graphs:    make(map[string]*graph.Graph),
		workflows: make(map[string]*workflow.Workflow),
		runs:      make(map[string]*workflow.Run),
	}
	s.nodes[IdentityNodeID] = node.NewIdentity(IdentityNodeID)
	return s, nil
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// ServerName returns the engine's server name for history rooting.
func (s *Session) ServerName() string { return s.cfg.ServerName }

// History returns the shared history writer (may be nil).
func (s *Session) History() *history.Writer { return s.cfg.History }

// AddNode registers a node. spec retains the creation parameters for
// export; it may be nil.
func (s *Session) AddNode(n node.Node, spec map[string]any) error {
	if err := node.ValidateName(n.ID()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return protocol.Errorf(protocol.KindInvalidState, "session %q is stopped", s.name)
	}
	if _, exists := s.nodes[n.ID()]; exists {
		return protocol.Errorf(protocol.KindConflict, "node %q already exists in session %q", n.ID(), s.name)
	}
	s.nodes[n.ID()] = n
	if spec != nil {
		s.nodeSpecs[n.ID()] = spec
	}
	return nil
}

// Node looks up a node by id.
func (s *Session) Node(id string) (node.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, protocol.Errorf(protocol.KindNotFound, "node %q not found in session %q", id, s.name)
	}
	return n, nil
}

// Nodes returns all nodes sorted by id.
func (s *Session) Nodes() []node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]node.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// NodeSpec returns the creation parameters recorded for a node.
func (s *Session) NodeSpec(id string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeSpecs[id]
}

// RemoveNode stops and deregisters a node.
func (s *Session) RemoveNode(id string) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.KindNotFound, "node %q not found in session %q", id, s.name)
	}
	delete(s.nodes, id)
	delete(s.nodeSpecs, id)
	s.mu.Unlock()

	if err := n.Stop(); err != nil {
		s.cfg.Logger.Warn("node stop failed",
			zap.String("session", s.name),
			zap.String("node", id),
			zap.Error(err),
		)
	}
	return nil
}

// removeQuiet deregisters without stopping; used for ephemeral nodes
// that stopped themselves.
func (s *Session) removeQuiet(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return false
	}
	delete(s.nodes, id)
	delete(s.nodeSpecs, id)
	return true
}

// ResolveNode implements graph.NodeResolver. Ephemeral nodes come back
// wrapped so a graph step deregisters them after their one execution.
func (s *Session) ResolveNode(id string) (node.Node, error) {
	n, err := s.Node(id)
	if err != nil {
		return nil, err
	}
	if !n.Persistent() {
		return &ephemeralCleanup{Node: n, session: s}, nil
	}
	return n, nil
}

// ephemeralCleanup deregisters its node after execution, success or
// not, and announces the deletion.
type ephemeralCleanup struct {
	node.Node
	session *Session
}

func (e *ephemeralCleanup) Execute(ctx context.Context, ec *node.ExecContext) (any, error) {
	out, err := e.Node.Execute(ctx, ec)
	e.session.deleteEphemeral(e.Node, ec)
	return out, err
}

func (s *Session) deleteEphemeral(n node.Node, ec *node.ExecContext) {
	_ = n.Stop()
	if s.removeQuiet(n.ID()) {
		runID := ""
		if ec != nil {
			runID = ec.RunID
		}
		s.cfg.Events.Emit(protocol.NewEvent(protocol.EventNodeDeleted, n.ID(), runID, map[string]any{
			"session":   s.name,
			"ephemeral": true,
		}))
	}
}

// ExecuteNode runs one node with full event choreography: NODE_BUSY,
// then OUTPUT_PARSED for parsed terminal output, then exactly one of
// NODE_READY or NODE_ERROR. Ephemeral nodes are deregistered after the
// execution even when it fails.
func (s *Session) ExecuteNode(ctx context.Context, id string, ec *node.ExecContext) (any, error) {
	n, err := s.Node(id)
	if err != nil {
		return nil, err
	}
	if ec == nil {
		ec = &node.ExecContext{}
	}
	if ec.Session == "" {
		c := *ec
		c.Session = s.name
		ec = &c
	}

	s.cfg.Events.Emit(protocol.NewEvent(protocol.EventNodeBusy, id, ec.RunID, nil))
	stopStream := s.relayOutput(n, ec.RunID)
	out, execErr := n.Execute(ctx, ec)
	stopStream()

	if execErr != nil {
		s.cfg.Events.Emit(protocol.NewEvent(protocol.EventNodeError, id, ec.RunID, map[string]any{
			"error": execErr.Error(),
		}))
		if !n.Persistent() {
			s.deleteEphemeral(n, ec)
		}
		// Partial output survives a timeout or interrupt; callers that
		// only care about success can ignore it.
		return out, protocol.AsError(execErr)
	}

	if resp, ok := out.(*parser.Response); ok {
		s.cfg.Events.Emit(protocol.NewEvent(protocol.EventOutputParsed, id, ec.RunID, map[string]any{
			"text":        resp.Text(),
			"tokens":      resp.Tokens,
			"is_complete": resp.IsComplete,
		}))
	}
	s.cfg.Events.Emit(protocol.NewEvent(protocol.EventNodeReady, id, ec.RunID, nil))
	if !n.Persistent() {
		s.deleteEphemeral(n, ec)
	}
	return out, nil
}

// relayOutput forwards backend chunks as OUTPUT_CHUNK events while an
// execution is in flight. The returned stop flushes whatever is still
// queued and waits for the relay goroutine to exit.
func (s *Session) relayOutput(n node.Node, runID string) func() {
	src, ok := n.(interface{ Stream() <-chan []byte })
	if !ok {
		return func() {}
	}
	ch := src.Stream()
	stop := make(chan struct{})
	done := make(chan struct{})

	emit := func(chunk []byte) {
		s.cfg.Events.Emit(protocol.NewEvent(protocol.EventOutputChunk, n.ID(), runID, map[string]any{
			"data": string(chunk),
		}))
	}
	go func() {
		defer close(done)
		for {
			select {
			case chunk, open := <-ch:
				if !open {
					return
				}
				emit(chunk)
			case <-stop:
				for {
					select {
					case chunk, open := <-ch:
						if !open {
							return
						}
						emit(chunk)
					default:
						return
					}
				}
			}
		}
	}()
	return func() { close(stop); <-done }
}

// AddGraph validates and registers a graph.
func (s *Session) AddGraph(g *graph.Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return protocol.Errorf(protocol.KindInvalidState, "session %q is stopped", s.name)
	}
	if _, exists := s.graphs[g.ID]; exists {
		return protocol.Errorf(protocol.KindConflict, "graph %q already exists in session %q", g.ID, s.name)
	}
	s.graphs[g.ID] = g
	return nil
}

// Graph looks up a graph by id.
func (s *Session) Graph(id string) (*graph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[id]
	if !ok {
		return nil, protocol.Errorf(protocol.KindNotFound, "graph %q not found in session %q", id, s.name)
	}
	return g, nil
}

// Graphs returns all graph ids sorted.
func (s *Session) Graphs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RemoveGraph deregisters a graph.
func (s *Session) RemoveGraph(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[id]; !ok {
		return protocol.Errorf(protocol.KindNotFound, "graph %q not found in session %q", id, s.name)
	}
	delete(s.graphs, id)
	return nil
}

// ExecuteGraph runs a registered graph against this session's nodes.
func (s *Session) ExecuteGraph(ctx context.Context, id string, ec *node.ExecContext) (map[string]graph.TaskResult, error) {
	g, err := s.Graph(id)
	if err != nil {
		return nil, err
	}
	return s.cfg.Executor.Execute(ctx, g, s, ec)
}

// RegisterWorkflow binds a workflow id to a body.
func (s *Session) RegisterWorkflow(wf *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return protocol.Errorf(protocol.KindConflict, "workflow %q already exists in session %q", wf.ID, s.name)
	}
	s.workflows[wf.ID] = wf
	return nil
}

// Workflow looks up a workflow by id.
func (s *Session) Workflow(id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, protocol.Errorf(protocol.KindNotFound, "workflow %q not found in session %q", id, s.name)
	}
	return wf, nil
}

// Workflows returns all workflow ids sorted.
func (s *Session) Workflows() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddRun registers a workflow run; wired as the runner's OnRun hook.
func (s *Session) AddRun(r *workflow.Run) {
	s.mu.Lock()
	s.runs[r.ID()] = r
	s.mu.Unlock()
}

// Run looks up a run by id.
func (s *Session) Run(id string) (*workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, protocol.Errorf(protocol.KindNotFound, "run %q not found in session %q", id, s.name)
	}
	return r, nil
}

// Runs returns all runs sorted by run id.
func (s *Session) Runs() []*workflow.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Kind implements workflow.Executor: classify a reference.
func (s *Session) Kind(ref string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[ref]; ok {
		return "node"
	}
	if _, ok := s.graphs[ref]; ok {
		return "graph"
	}
	return ""
}

// Execute implements workflow.Executor: dispatch to a node or graph.
func (s *Session) Execute(ctx context.Context, ref string, ec *node.ExecContext) (any, error) {
	switch s.Kind(ref) {
	case "node":
		return s.ExecuteNode(ctx, ref, ec)
	case "graph":
		results, err := s.ExecuteGraph(ctx, ref, ec)
		if err != nil {
			return nil, err
		}
		return results, nil
	}
	return nil, protocol.Errorf(protocol.KindNotFound, "no node or graph named %q in session %q", ref, s.name)
}

// Stop cancels every in-flight run and stops all nodes. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	runs := make([]*workflow.Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	nodes := make([]node.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.Cancel()
	}
	for _, n := range nodes {
		if n.State() == node.StateBusy {
			_ = n.Interrupt()
		}
		if err := n.Stop(); err != nil {
			s.cfg.Logger.Warn("node stop failed during session stop",
				zap.String("session", s.name),
				zap.String("node", n.ID()),
				zap.Error(err),
			)
		}
	}
}

// Describe returns the catalogue view served by GET_SESSION.
func (s *Session) Describe() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]map[string]any, 0, len(s.nodes))
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := s.nodes[id]
		nodes = append(nodes, map[string]any{
			"id":         n.ID(),
			"type":       string(n.Type()),
			"state":      string(n.State()),
			"persistent": n.Persistent(),
		})
	}

	graphs := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		graphs = append(graphs, id)
	}
	sort.Strings(graphs)

	workflows := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		workflows = append(workflows, id)
	}
	sort.Strings(workflows)

	runs := make([]map[string]any, 0, len(s.runs))
	runIDs := make([]string, 0, len(s.runs))
	for id := range s.runs {
		runIDs = append(runIDs, id)
	}
	sort.Strings(runIDs)
	for _, id := range runIDs {
		r := s.runs[id]
		runs = append(runs, map[string]any{
			"run_id":      r.ID(),
			"workflow_id": r.WorkflowID(),
			"state":       string(r.State()),
		})
	}

	return map[string]any{
		"name":        s.name,
		"server_name": s.cfg.ServerName,
		"nodes":       nodes,
		"graphs":      graphs,
		"workflows":   workflows,
		"runs":        runs,
	}
}
