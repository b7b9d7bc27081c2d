// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package terminal

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Attach binds to an externally-owned tmux pane. The pane's scrollback
// is queried on demand; a background poller diffs snapshots to provide
// the stream view.
type Attach struct {
	paneID string
	logger *zap.Logger

	mu       sync.Mutex
	attached bool
	closed   bool
	stream   chan []byte
	stop     chan struct{}
	lastSnap string
}

// pollInterval for the snapshot diff stream.
const attachPollInterval = 500 * time.Millisecond

// scrollbackLines captured per snapshot.
const scrollbackLines = 2000

// NewAttach creates an unattached backend for the given tmux pane id
// (e.g. "%3" or "mysession:0.1").
func NewAttach(paneID string, logger *zap.Logger) *Attach {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attach{paneID: paneID, logger: logger}
}

// Attach verifies the pane exists and starts the snapshot poller.
func (a *Attach) Attach() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attached {
		return fmt.Errorf("already attached to pane %s", a.paneID)
	}
	if _, err := a.capture(); err != nil {
		return fmt.Errorf("failed to attach to pane %s: %w", a.paneID, err)
	}
	a.attached = true
	a.stream = make(chan []byte, 64)
	a.stop = make(chan struct{})
	go a.pollLoop()

	a.logger.Info("attached to pane", zap.String("pane", a.paneID))
	return nil
}

func (a *Attach) pollLoop() {
	ticker := time.NewTicker(attachPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			a.mu.Lock()
			close(a.stream)
			a.mu.Unlock()
			return
		case <-ticker.C:
			snap, err := a.capture()
			if err != nil {
				continue
			}
			a.mu.Lock()
			prev := a.lastSnap
			a.lastSnap = snap
			stream := a.stream
			a.mu.Unlock()

			if delta := snapshotDelta(prev, snap); delta != "" {
				select {
				case stream <- []byte(delta):
				default:
				}
			}
		}
	}
}

// snapshotDelta returns the suffix of cur that extends prev, or the
// whole of cur when the pane content changed shape (clear, scroll).
func snapshotDelta(prev, cur string) string {
	if cur == prev {
		return ""
	}
	if strings.HasPrefix(cur, prev) {
		return cur[len(prev):]
	}
	return cur
}

// capture queries the pane scrollback.
func (a *Attach) capture() (string, error) {
	// #nosec G204 -- pane id comes from operator configuration
	out, err := exec.Command("tmux", "capture-pane", "-p", "-t", a.paneID,
		"-S", "-"+strconv.Itoa(scrollbackLines)).Output()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w", err)
	}
	return string(out), nil
}

// Write implements Backend via tmux send-keys with literal flag.
func (a *Attach) Write(p []byte) error {
	a.mu.Lock()
	attached, closed := a.attached, a.closed
	a.mu.Unlock()
	if !attached {
		return ErrNotStarted
	}
	if closed {
		return ErrClosed
	}

	s := string(p)
	// Control bytes must go through named keys; send the literal text
	// first, then any trailing submit characters.
	literal := strings.TrimRight(s, "\r\n")
	suffix := s[len(literal):]

	if literal != "" {
		// #nosec G204
		if err := exec.Command("tmux", "send-keys", "-t", a.paneID, "-l", "--", literal).Run(); err != nil {
			return fmt.Errorf("tmux send-keys: %w", err)
		}
	}
	for range suffix {
		// Both CR and LF map to Enter on a terminal keyboard.
		// #nosec G204
		if err := exec.Command("tmux", "send-keys", "-t", a.paneID, "Enter").Run(); err != nil {
			return fmt.Errorf("tmux send-keys enter: %w", err)
		}
	}
	return nil
}

// ReadStream implements Backend.
func (a *Attach) ReadStream() <-chan []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream == nil {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	return a.stream
}

// Buffer implements Backend with a fresh snapshot.
func (a *Attach) Buffer() string {
	a.mu.Lock()
	attached := a.attached
	a.mu.Unlock()
	if !attached {
		return ""
	}
	snap, err := a.capture()
	if err != nil {
		a.mu.Lock()
		snap = a.lastSnap
		a.mu.Unlock()
	}
	return snap
}

// ReadTail implements Backend.
func (a *Attach) ReadTail(n int) string {
	return tailLines(a.Buffer(), n)
}

// Interrupt implements Backend via key injection.
func (a *Attach) Interrupt() error {
	a.mu.Lock()
	attached := a.attached
	a.mu.Unlock()
	if !attached {
		return ErrNotStarted
	}
	// #nosec G204
	return exec.Command("tmux", "send-keys", "-t", a.paneID, "C-c").Run()
}

// Resize implements Backend. Pane geometry is owned by the external
// multiplexer; resizing is a no-op.
func (a *Attach) Resize(rows, cols uint16) error { return nil }

// Focus implements Focuser.
func (a *Attach) Focus() error {
	a.mu.Lock()
	attached := a.attached
	a.mu.Unlock()
	if !attached {
		return ErrNotStarted
	}
	// #nosec G204
	return exec.Command("tmux", "select-pane", "-t", a.paneID).Run()
}

// Running implements Backend.
func (a *Attach) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached && !a.closed
}

// Stop implements Backend by releasing the pane. The external process
// is not ours to kill.
func (a *Attach) Stop(time.Duration) error {
	a.mu.Lock()
	if !a.attached || a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	stop := a.stop
	a.mu.Unlock()

	close(stop)
	a.logger.Info("released pane", zap.String("pane", a.paneID))
	return nil
}
