// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workflow runs imperative orchestration procedures over nodes
// and graphs, with suspendable gates and cooperative cancellation.
package workflow

import (
	"context"

	"github.com/AgenticCurve/nerve-sub002/pkg/node"
)

// Body is an orchestration procedure. It drives nodes and graphs
// through the Context and may suspend on gates.
type Body func(ctx *Context) (any, error)

// Workflow binds an id to a registered body.
type Workflow struct {
	ID   string
	Body Body
}

// Executor schedules one node or graph execution on behalf of a run.
// Implemented by session.Session; the workflow package never reaches
// into session state directly.
type Executor interface {
	// Kind classifies a reference as "node", "graph", or "" when the
	// reference resolves to neither.
	Kind(ref string) string

	// Execute runs the referenced node or graph. Input, budget, usage
	// and cancellation ride on the execution context.
	Execute(ctx context.Context, ref string, ec *node.ExecContext) (any, error)
}
