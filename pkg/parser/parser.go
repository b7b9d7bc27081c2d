// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package parser turns accumulated terminal buffers into structured
// responses and decides when the underlying process is ready for more
// input. Parsers are stateless and pure: for a stable buffer, Parse
// returns the same value every time.
package parser

import (
	"fmt"
	"strings"
)

// SectionType tags a parsed section.
type SectionType string

const (
	SectionText     SectionType = "text"
	SectionThinking SectionType = "thinking"
	SectionToolCall SectionType = "tool_call"
)

// Section is one structured piece of a response.
type Section struct {
	Type     SectionType    `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response is the structured result of parsing a terminal buffer.
type Response struct {
	Raw        string    `json:"raw"`
	Sections   []Section `json:"sections"`
	IsComplete bool      `json:"is_complete"`
	IsReady    bool      `json:"is_ready"`
	Tokens     int       `json:"tokens,omitempty"`
}

// Text concatenates all text sections.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, s := range r.Sections {
		if s.Type == SectionText {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(s.Content)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool_call sections.
func (r *Response) ToolCalls() []Section {
	var out []Section
	for _, s := range r.Sections {
		if s.Type == SectionToolCall {
			out = append(out, s)
		}
	}
	return out
}

// Parser detects readiness and extracts structure from a terminal
// buffer. Implementations must never report ready while the latest
// status region contains an in-progress indicator.
type Parser interface {
	// Name identifies the dialect ("claude", "gemini", "none").
	Name() string

	// IsReady reports whether the process is idle awaiting input.
	IsReady(buffer string) bool

	// Parse extracts the most recent response from the buffer.
	Parse(buffer string) *Response

	// SubmitSequence returns the bytes appended after written input to
	// submit it (dialect-dependent: Claude uses a bare CR).
	SubmitSequence() []byte
}

// ByName returns a built-in parser. An empty name selects "none".
func ByName(name string) (Parser, error) {
	switch name {
	case "claude":
		return NewClaude(), nil
	case "gemini":
		return NewGemini(), nil
	case "none", "":
		return NewNone(), nil
	default:
		return nil, fmt.Errorf("unknown parser %q", name)
	}
}

// splitLines splits without dropping a trailing empty line's meaning.
func splitLines(buffer string) []string {
	return strings.Split(strings.ReplaceAll(buffer, "\r\n", "\n"), "\n")
}
