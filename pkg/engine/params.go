// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/AgenticCurve/nerve-sub002/pkg/budget"
	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// Params wraps a command's parameter map with typed, validating
// accessors. Every handler receives its params through this type.
type Params map[string]any

// String returns a required string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", protocol.Errorf(protocol.KindInvalidInput, "missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", protocol.Errorf(protocol.KindInvalidInput, "parameter %q must be a non-empty string", key)
	}
	return s, nil
}

// StringOr returns an optional string parameter with a default.
func (p Params) StringOr(key, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Int returns an optional integer parameter; JSON numbers arrive as
// float64.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns an optional boolean parameter.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Seconds reads an optional duration expressed as seconds.
func (p Params) Seconds(key string) time.Duration {
	switch v := p[key].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	default:
		return 0
	}
}

// Map returns an optional nested map parameter.
func (p Params) Map(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// Decode fills a tagged struct from a nested parameter. Returns false
// when the key is absent.
func (p Params) Decode(key string, out any) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return false, nil
	}
	if err := decodeInto(v, out); err != nil {
		return false, protocol.Errorf(protocol.KindInvalidInput, "parameter %q: %v", key, err)
	}
	return true, nil
}

// decodeInto maps loosely-typed wire values onto a tagged struct.
func decodeInto(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// budgetSpec is the wire shape of a budget parameter.
type budgetSpec struct {
	MaxTokens      int64   `mapstructure:"max_tokens"`
	MaxTimeSeconds float64 `mapstructure:"max_time_seconds"`
	MaxSteps       int64   `mapstructure:"max_steps"`
	MaxAPICalls    int64   `mapstructure:"max_api_calls"`
	MaxCostDollars float64 `mapstructure:"max_cost_dollars"`
}

// Budget decodes an optional budget parameter. Nil when absent.
func (p Params) Budget(key string) (*budget.Budget, error) {
	var spec budgetSpec
	ok, err := p.Decode(key, &spec)
	if err != nil || !ok {
		return nil, err
	}
	return &budget.Budget{
		MaxTokens:      spec.MaxTokens,
		MaxTime:        time.Duration(spec.MaxTimeSeconds * float64(time.Second)),
		MaxSteps:       spec.MaxSteps,
		MaxAPICalls:    spec.MaxAPICalls,
		MaxCostDollars: spec.MaxCostDollars,
	}, nil
}
