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

const geminiIdleBuffer = `╭──────────────────────────────╮
│ > summarize the repo         │
╰──────────────────────────────╯

✔ ReadFolder .

✦ The repo contains a Go module with two packages.

╭──────────────────────────────╮
│ >                            │
╰──────────────────────────────╯
`

const geminiBusyBuffer = `╭──────────────────────────────╮
│ > summarize the repo         │
╰──────────────────────────────╯

⠋ Reading files... (esc to cancel)
`

func TestGeminiIsReady(t *testing.T) {
	p := NewGemini()
	assert.True(t, p.IsReady(geminiIdleBuffer))
	assert.False(t, p.IsReady(geminiBusyBuffer))
	assert.False(t, p.IsReady(geminiIdleBuffer+"\n⠙ Working... (esc to cancel)\n"))
}

func TestGeminiParse(t *testing.T) {
	resp := NewGemini().Parse(geminiIdleBuffer)

	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ReadFolder", calls[0].Metadata["name"])
	assert.Equal(t, ".", calls[0].Metadata["args_raw"])

	assert.Equal(t, "The repo contains a Go module with two packages.", resp.Text())
	assert.True(t, resp.IsReady)
}

func TestGeminiParseIdempotent(t *testing.T) {
	p := NewGemini()
	assert.Equal(t, p.Parse(geminiIdleBuffer), p.Parse(geminiIdleBuffer))
}

func TestNoneParser(t *testing.T) {
	p := NewNone()
	assert.True(t, p.IsReady("anything at all"))
	assert.True(t, p.IsReady(""))

	resp := p.Parse("raw output")
	require.Len(t, resp.Sections, 1)
	assert.Equal(t, SectionText, resp.Sections[0].Type)
	assert.Equal(t, "raw output", resp.Sections[0].Content)
	assert.True(t, resp.IsComplete)

	assert.Equal(t, p.Parse("stable"), p.Parse("stable"))
}
