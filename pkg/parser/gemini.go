// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package parser

import (
	"regexp"
	"strings"
)

// Gemini parses the Gemini-style CLI: "✦"-prefixed model output,
// "✔"/"✖" tool lines, braille spinners while working and a framed
// "│ >" idle prompt.
type Gemini struct{}

// NewGemini creates the Gemini dialect parser.
func NewGemini() *Gemini { return &Gemini{} }

var (
	geminiPromptRe = regexp.MustCompile(`^\s*│\s*>\s?(.*?)\s*│?\s*$`)
	geminiToolRe   = regexp.MustCompile(`^\s*[✔✖]\s+([A-Za-z_][\w.-]*)\s*(.*)$`)
	geminiSpinner  = regexp.MustCompile(`^\s*[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]`)
)

var geminiBusyMarkers = []string{
	"esc to cancel",
	"(esc to cancel)",
	"Waiting for auth",
}

// Name implements Parser.
func (p *Gemini) Name() string { return "gemini" }

// SubmitSequence implements Parser.
func (p *Gemini) SubmitSequence() []byte { return []byte("\n") }

// IsReady implements Parser.
func (p *Gemini) IsReady(buffer string) bool {
	lines := splitLines(buffer)

	lastPrompt := -1
	lastBusy := -1
	for i, line := range lines {
		if m := geminiPromptRe.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[1]) == "" {
			lastPrompt = i
		}
		if geminiSpinner.MatchString(line) {
			lastBusy = i
		}
		for _, marker := range geminiBusyMarkers {
			if strings.Contains(line, marker) {
				lastBusy = i
			}
		}
	}
	return lastPrompt >= 0 && lastPrompt > lastBusy
}

// Parse implements Parser.
func (p *Gemini) Parse(buffer string) *Response {
	lines := splitLines(buffer)
	resp := &Response{Raw: buffer, IsReady: p.IsReady(buffer)}

	lastInput, lastPrompt := -1, len(lines)
	for i, line := range lines {
		m := geminiPromptRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.TrimSpace(m[1]) == "" {
			lastPrompt = i
		} else {
			lastInput = i
		}
	}
	if lastInput > lastPrompt {
		lastPrompt = len(lines)
	}
	if lastPrompt > len(lines) {
		lastPrompt = len(lines)
	}

	var sections []Section
	var text []string
	flushText := func() {
		content := strings.TrimSpace(strings.Join(text, "\n"))
		text = text[:0]
		if content != "" {
			sections = append(sections, Section{Type: SectionText, Content: content})
		}
	}

	for _, line := range lines[lastInput+1 : lastPrompt] {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || isGeminiChrome(line):
			continue

		case geminiToolRe.MatchString(trimmed):
			flushText()
			m := geminiToolRe.FindStringSubmatch(trimmed)
			meta := map[string]any{"name": m[1]}
			if m[2] != "" {
				meta["args_raw"] = strings.TrimSpace(m[2])
			}
			sections = append(sections, Section{Type: SectionToolCall, Content: trimmed, Metadata: meta})

		case strings.HasPrefix(trimmed, "✦"):
			text = append(text, strings.TrimSpace(strings.TrimPrefix(trimmed, "✦")))

		default:
			text = append(text, trimmed)
		}
	}
	flushText()

	resp.Sections = sections
	resp.IsComplete = resp.IsReady
	return resp
}

func isGeminiChrome(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "╭") || strings.HasPrefix(trimmed, "╰") || strings.HasPrefix(trimmed, "│") {
		return true
	}
	if geminiSpinner.MatchString(line) {
		return true
	}
	for _, marker := range geminiBusyMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
