// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package budget

import (
	"sync"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// CancelToken is a cooperative cancellation signal shared by a workflow
// run and every execution scheduled under it. Cancel is idempotent.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel signals cancellation. Safe to call multiple times.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether the token has been cancelled. A nil token
// is never cancelled.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation. A nil token returns a
// channel that never closes.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.ch
}

// Err returns a cancelled error if the token is set, nil otherwise.
func (t *CancelToken) Err() error {
	if t.Cancelled() {
		return protocol.NewError(protocol.KindCancelled, "operation cancelled")
	}
	return nil
}
