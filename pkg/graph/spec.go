// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package graph

// StepSpec is the wire form of a step. A step carries either a
// template or a literal input; function inputs exist only on graphs
// built in-process and do not serialize.
type StepSpec struct {
	ID        string   `json:"id" mapstructure:"id"`
	Node      string   `json:"node" mapstructure:"node"`
	Input     any      `json:"input,omitempty" mapstructure:"input"`
	Template  string   `json:"template,omitempty" mapstructure:"template"`
	DependsOn []string `json:"depends_on,omitempty" mapstructure:"depends_on"`
}

// Spec is the wire form of a graph, as carried by CREATE_GRAPH and
// session export.
type Spec struct {
	ID    string     `json:"id" mapstructure:"id"`
	Steps []StepSpec `json:"steps" mapstructure:"steps"`
}

// Build turns a spec into a validated graph.
func (s Spec) Build() (*Graph, error) {
	g := &Graph{ID: s.ID, Steps: make([]Step, 0, len(s.Steps))}
	for _, step := range s.Steps {
		input := Literal(step.Input)
		if step.Template != "" {
			input = Template(step.Template)
		}
		g.Steps = append(g.Steps, Step{
			ID:        step.ID,
			NodeRef:   step.Node,
			Input:     input,
			DependsOn: step.DependsOn,
		})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Describe renders a graph back into its wire form. Function inputs
// are not serializable and come out as empty literals.
func Describe(g *Graph) Spec {
	spec := Spec{ID: g.ID, Steps: make([]StepSpec, 0, len(g.Steps))}
	for _, step := range g.Steps {
		ss := StepSpec{ID: step.ID, Node: step.NodeRef, DependsOn: step.DependsOn}
		switch step.Input.Kind {
		case InputTemplate:
			ss.Template = step.Input.Template
		case InputLiteral, "":
			ss.Input = step.Input.Literal
		}
		spec.Steps = append(spec.Steps, ss)
	}
	return spec
}
