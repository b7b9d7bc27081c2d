// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const claudeIdleBuffer = `╭──────────────────────────────╮
│ > What is 2+2?               │
╰──────────────────────────────╯

✻ Thinking…

  Simple arithmetic, no tools needed.

⏺ 4

╭──────────────────────────────╮
│ >                            │
╰──────────────────────────────╯
  ? for shortcuts
`

const claudeBusyBuffer = `╭──────────────────────────────╮
│ > What is 2+2?               │
╰──────────────────────────────╯

✻ Churning… (3s · 142 tokens · esc to interrupt)
`

func TestClaudeIsReady(t *testing.T) {
	p := NewClaude()
	assert.True(t, p.IsReady(claudeIdleBuffer))
	assert.False(t, p.IsReady(claudeBusyBuffer))
	assert.False(t, p.IsReady(""))
}

func TestClaudeBusyMarkerAfterStatusLine(t *testing.T) {
	// An idle-looking frame followed by a fresh in-progress status must
	// not be reported ready.
	buffer := claudeIdleBuffer + "\n✻ Reticulating… (1s · esc to interrupt)\n"
	assert.False(t, NewClaude().IsReady(buffer))
}

func TestClaudeParseSections(t *testing.T) {
	p := NewClaude()
	resp := p.Parse(claudeIdleBuffer)

	require.Len(t, resp.Sections, 2)
	assert.Equal(t, SectionThinking, resp.Sections[0].Type)
	assert.Contains(t, resp.Sections[0].Content, "Simple arithmetic")
	assert.Equal(t, SectionText, resp.Sections[1].Type)
	assert.Equal(t, "4", resp.Sections[1].Content)
	assert.True(t, resp.IsReady)
	assert.Equal(t, "4", resp.Text())
}

func TestClaudeParseToolCall(t *testing.T) {
	buffer := `╭──────────────────────────────╮
│ > list the files             │
╰──────────────────────────────╯

⏺ Bash({"command": "ls"})
  ⎿ main.go
  ⎿ go.mod

⏺ Two files: main.go and go.mod.

╭──────────────────────────────╮
│ >                            │
╰──────────────────────────────╯
`
	resp := NewClaude().Parse(buffer)
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Bash", calls[0].Metadata["name"])
	args, ok := calls[0].Metadata["args"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ls", args["command"])
	assert.Equal(t, "main.go\ngo.mod", calls[0].Metadata["result"])
	assert.Equal(t, "Two files: main.go and go.mod.", resp.Text())
}

func TestClaudeRepairsTruncatedArgs(t *testing.T) {
	buffer := `│ > run it                     │

⏺ Bash({"command": "echo hi")

╭──────────────────────────────╮
│ >                            │
╰──────────────────────────────╯
`
	resp := NewClaude().Parse(buffer)
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	args, ok := calls[0].Metadata["args"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "echo hi", args["command"])
}

func TestClaudeParseIdempotent(t *testing.T) {
	p := NewClaude()
	first := p.Parse(claudeIdleBuffer)
	second := p.Parse(claudeIdleBuffer)
	assert.Equal(t, first, second)
}

func TestClaudeTokenCount(t *testing.T) {
	lines := splitLines("✻ Done (12s · 1.2k tokens)")
	assert.Equal(t, 1200, claudeTokenCount(lines))

	lines = splitLines("✻ Done (2s · 142 tokens)")
	assert.Equal(t, 142, claudeTokenCount(lines))

	assert.Equal(t, 0, claudeTokenCount(splitLines("no counts here")))
}

func TestClaudeSubmitSequence(t *testing.T) {
	assert.Equal(t, []byte("\r"), NewClaude().SubmitSequence())
}

func TestByName(t *testing.T) {
	for _, name := range []string{"claude", "gemini", "none", ""} {
		p, err := ByName(name)
		require.NoError(t, err, name)
		require.NotNil(t, p)
	}
	_, err := ByName("cobol")
	assert.Error(t, err)
}
