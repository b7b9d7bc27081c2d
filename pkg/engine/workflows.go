// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"

	"github.com/AgenticCurve/nerve-sub002/pkg/workflow"
)

// executeWorkflow starts a run and returns its id immediately; pass
// wait=true to block until the run reaches a terminal state. Runs are
// registered with the session either way, so GET_WORKFLOW_RUN and
// ANSWER_GATE address them by run_id.
func (e *Engine) executeWorkflow(ctx context.Context, p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("workflow_id")
	if err != nil {
		return nil, err
	}
	wf, err := s.Workflow(id)
	if err != nil {
		return nil, err
	}
	b, err := p.Budget("budget")
	if err != nil {
		return nil, err
	}

	runner := workflow.NewRunner(workflow.RunnerConfig{
		Executor: s,
		Events:   e.cfg.Events,
		Logger:   e.cfg.Logger,
		OnRun:    s.AddRun,
	})
	run, err := runner.Start(ctx, wf, workflow.StartOptions{
		Session: s.Name(),
		Input:   p["input"],
		Params:  p.Map("params"),
		Budget:  b,
	})
	if err != nil {
		return nil, err
	}

	if p.Bool("wait") {
		if err := run.Wait(ctx); err != nil {
			return nil, err
		}
		return run.Info(), nil
	}
	return map[string]any{
		"run_id":      run.ID(),
		"workflow_id": id,
		"state":       string(run.State()),
	}, nil
}

func (e *Engine) listWorkflows(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"workflows": s.Workflows()}, nil
}

func (e *Engine) getWorkflowRun(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("run_id")
	if err != nil {
		return nil, err
	}
	run, err := s.Run(id)
	if err != nil {
		return nil, err
	}
	return run.Info(), nil
}

func (e *Engine) answerGate(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("run_id")
	if err != nil {
		return nil, err
	}
	answer, err := p.String("answer")
	if err != nil {
		return nil, err
	}
	run, err := s.Run(id)
	if err != nil {
		return nil, err
	}
	if err := run.AnswerGate(answer); err != nil {
		return nil, err
	}
	return map[string]any{"run_id": id, "state": string(run.State())}, nil
}

func (e *Engine) cancelWorkflow(p Params) (any, error) {
	s, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	id, err := p.String("run_id")
	if err != nil {
		return nil, err
	}
	run, err := s.Run(id)
	if err != nil {
		return nil, err
	}
	run.Cancel()
	return map[string]any{"run_id": id, "state": string(run.State())}, nil
}
