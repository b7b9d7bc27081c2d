// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Claude parses the interactive Claude-style CLI. The CLI renders user
// input and the idle prompt inside box-drawing frames ("│ > ..."),
// spinner status lines while working ("✻ Churning… (3s · esc to
// interrupt)"), thinking blocks, and "⏺"-bulleted output lines.
type Claude struct{}

// NewClaude creates the Claude dialect parser.
func NewClaude() *Claude { return &Claude{} }

var (
	claudePromptRe = regexp.MustCompile(`^\s*│\s*>\s?(.*?)\s*│?\s*$`)
	claudeStatusRe = regexp.MustCompile(`^\s*[✻✼✽✢∗*·]\s+\S+…`)
	claudeToolRe   = regexp.MustCompile(`^\s*⏺\s+([A-Za-z_][\w.-]*)\((.*)\)\s*$`)
	claudeTokensRe = regexp.MustCompile(`(\d+(?:\.\d+)?)(k?)\s*tokens`)
)

// Markers that indicate work in progress. Robustness requirement: any
// of these after the latest status line means not ready.
var claudeBusyMarkers = []string{
	"esc to interrupt",
	"ctrl+b to run in background",
	"Waiting…",
}

// Name implements Parser.
func (p *Claude) Name() string { return "claude" }

// SubmitSequence implements Parser. The Claude CLI submits on a bare CR.
func (p *Claude) SubmitSequence() []byte { return []byte("\r") }

// IsReady implements Parser. Ready means an empty prompt frame appears
// after the last in-progress indicator.
func (p *Claude) IsReady(buffer string) bool {
	lines := splitLines(buffer)

	lastPrompt := -1
	lastBusy := -1
	for i, line := range lines {
		if m := claudePromptRe.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[1]) == "" {
			lastPrompt = i
		}
		for _, marker := range claudeBusyMarkers {
			if strings.Contains(line, marker) {
				lastBusy = i
			}
		}
	}
	return lastPrompt >= 0 && lastPrompt > lastBusy
}

// Parse implements Parser. It extracts the region between the most
// recent non-empty prompt frame (the echoed user input) and the current
// empty prompt frame, then splits it into thinking, tool_call and text
// sections.
func (p *Claude) Parse(buffer string) *Response {
	lines := splitLines(buffer)
	resp := &Response{Raw: buffer, IsReady: p.IsReady(buffer)}

	lastInput, lastPrompt := -1, len(lines)
	for i, line := range lines {
		m := claudePromptRe.FindStringSubmatch(line)
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
		// The echoed input is below the last empty prompt: output for
		// this turn has not been framed yet.
		lastPrompt = len(lines)
	}

	region := lines[lastInput+1 : min(lastPrompt, len(lines))]
	resp.Sections = p.splitSections(region)
	resp.IsComplete = resp.IsReady
	resp.Tokens = claudeTokenCount(lines)
	return resp
}

// splitSections walks the response region line by line.
func (p *Claude) splitSections(lines []string) []Section {
	var sections []Section
	var text []string

	flushText := func() {
		content := strings.TrimSpace(strings.Join(text, "\n"))
		text = text[:0]
		if content != "" {
			sections = append(sections, Section{Type: SectionText, Content: content})
		}
	}

	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		// Thinking headers look like status lines; match them first.
		case strings.HasPrefix(trimmed, "✻ Thinking…"), strings.HasPrefix(trimmed, "∗ Thinking…"):
			flushText()
			var body []string
			i++
			for i < len(lines) {
				next := strings.TrimSpace(lines[i])
				if strings.HasPrefix(next, "⏺") || isClaudeChrome(lines[i]) || claudeStatusRe.MatchString(lines[i]) {
					break
				}
				if next != "" {
					body = append(body, next)
				}
				i++
			}
			sections = append(sections, Section{Type: SectionThinking, Content: strings.Join(body, "\n")})

		case trimmed == "" || isClaudeChrome(line):
			i++

		case claudeToolRe.MatchString(trimmed):
			flushText()
			m := claudeToolRe.FindStringSubmatch(trimmed)
			meta := map[string]any{"name": m[1]}
			if args := parseToolArgs(m[2]); args != nil {
				meta["args"] = args
			} else if m[2] != "" {
				meta["args_raw"] = m[2]
			}
			// Attach "⎿"-prefixed result lines to the call.
			var result []string
			i++
			for i < len(lines) {
				next := strings.TrimSpace(lines[i])
				if !strings.HasPrefix(next, "⎿") {
					break
				}
				result = append(result, strings.TrimSpace(strings.TrimPrefix(next, "⎿")))
				i++
			}
			if len(result) > 0 {
				meta["result"] = strings.Join(result, "\n")
			}
			sections = append(sections, Section{Type: SectionToolCall, Content: trimmed, Metadata: meta})

		case strings.HasPrefix(trimmed, "⏺"):
			text = append(text, strings.TrimSpace(strings.TrimPrefix(trimmed, "⏺")))
			i++

		default:
			text = append(text, trimmed)
			i++
		}
	}
	flushText()
	return sections
}

// isClaudeChrome reports frame borders and status/shortcut lines that
// carry no response content.
func isClaudeChrome(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "╭") || strings.HasPrefix(trimmed, "╰") || strings.HasPrefix(trimmed, "│") {
		return true
	}
	if strings.HasPrefix(trimmed, "? for shortcuts") {
		return true
	}
	if claudeStatusRe.MatchString(line) {
		return true
	}
	for _, marker := range claudeBusyMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// parseToolArgs attempts to decode tool arguments rendered as JSON.
// Malformed JSON (truncated by the terminal) is repaired first.
func parseToolArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil
	}
	return args
}

// claudeTokenCount pulls the token figure from the latest status line,
// e.g. "✻ Done (12s · 1.2k tokens)".
func claudeTokenCount(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		m := claudeTokensRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0
		}
		if m[2] == "k" {
			n *= 1000
		}
		return int(n)
	}
	return 0
}
