// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package parser

// None is the identity parser: always ready, whole buffer as one text
// section. Used for plain shells and tests.
type None struct{}

// NewNone creates the identity parser.
func NewNone() *None { return &None{} }

// Name implements Parser.
func (p *None) Name() string { return "none" }

// SubmitSequence implements Parser.
func (p *None) SubmitSequence() []byte { return []byte("\n") }

// IsReady implements Parser.
func (p *None) IsReady(string) bool { return true }

// Parse implements Parser.
func (p *None) Parse(buffer string) *Response {
	return &Response{
		Raw:        buffer,
		Sections:   []Section{{Type: SectionText, Content: buffer}},
		IsComplete: true,
		IsReady:    true,
	}
}
