// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package terminal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"empty", "", 3, ""},
		{"zero lines", "a\nb\n", 0, ""},
		{"fewer than n", "a\nb", 5, "a\nb"},
		{"exact", "a\nb\nc", 3, "a\nb\nc"},
		{"tail", "a\nb\nc\nd", 2, "c\nd"},
		{"trailing newline ignored", "a\nb\nc\n", 2, "b\nc"},
		{"single line", "hello", 1, "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tailLines(tt.in, tt.n))
		})
	}
}

func TestSnapshotDelta(t *testing.T) {
	assert.Equal(t, "", snapshotDelta("abc", "abc"))
	assert.Equal(t, "def", snapshotDelta("abc", "abcdef"))
	// Scrolled content no longer extends the previous snapshot.
	assert.Equal(t, "xyz", snapshotDelta("abc", "xyz"))
}

func TestPTYNotStarted(t *testing.T) {
	p := NewPTY(nil)
	assert.ErrorIs(t, p.Write([]byte("x")), ErrNotStarted)
	assert.ErrorIs(t, p.Interrupt(), ErrNotStarted)
	assert.ErrorIs(t, p.Resize(24, 80), ErrNotStarted)
	assert.False(t, p.Running())
	assert.Equal(t, "", p.Buffer())
	require.NoError(t, p.Stop(time.Second))
}

func TestPTYEchoLifecycle(t *testing.T) {
	p := NewPTY(nil)
	require.NoError(t, p.Start(StartOptions{Command: "cat"}))
	require.True(t, p.Running())

	require.NoError(t, p.Write([]byte("hello\n")))

	deadline := time.After(5 * time.Second)
	for !strings.Contains(p.Buffer(), "hello") {
		select {
		case <-deadline:
			t.Fatalf("echo never arrived, buffer: %q", p.Buffer())
		case <-time.After(20 * time.Millisecond):
		}
	}

	require.NoError(t, p.Stop(2*time.Second))
	assert.False(t, p.Running())

	// Stream must be closed after stop.
	select {
	case _, ok := <-drain(p.ReadStream()):
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after stop")
	}

	assert.ErrorIs(t, p.Write([]byte("late")), ErrClosed)
	require.NoError(t, p.Stop(time.Second))
}

// drain consumes buffered chunks and returns the channel once empty so
// the caller can observe the close.
func drain(ch <-chan []byte) <-chan []byte {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				closed := make(chan []byte)
				close(closed)
				return closed
			}
		default:
			return ch
		}
	}
}

func TestPTYChildExitClosesStream(t *testing.T) {
	p := NewPTY(nil)
	require.NoError(t, p.Start(StartOptions{Command: "true"}))

	deadline := time.After(5 * time.Second)
	for p.Running() {
		select {
		case <-deadline:
			t.Fatal("child exit not observed")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestPTYEnvAndTail(t *testing.T) {
	p := NewPTY(nil)
	require.NoError(t, p.Start(StartOptions{
		Command: "sh",
		Args:    []string{"-c", "echo one; echo two; echo $GREETING"},
		Env:     map[string]string{"GREETING": "salve"},
	}))
	defer p.Stop(2 * time.Second) //nolint:errcheck

	deadline := time.After(5 * time.Second)
	for !strings.Contains(p.Buffer(), "salve") {
		select {
		case <-deadline:
			t.Fatalf("env output never arrived, buffer: %q", p.Buffer())
		case <-time.After(20 * time.Millisecond):
		}
	}

	tail := p.ReadTail(1)
	assert.NotEmpty(t, tail)
	assert.NotContains(t, tail, "one\n")
}

func TestAttachNotAttached(t *testing.T) {
	a := NewAttach("%99", nil)
	assert.ErrorIs(t, a.Write([]byte("x")), ErrNotStarted)
	assert.ErrorIs(t, a.Interrupt(), ErrNotStarted)
	assert.ErrorIs(t, a.Focus(), ErrNotStarted)
	assert.False(t, a.Running())
	assert.Equal(t, "", a.Buffer())
	require.NoError(t, a.Stop(time.Second))
}
