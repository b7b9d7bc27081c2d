// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package tokencount estimates token counts for budget accounting.
// Uses tiktoken with cl100k_base encoding (Claude-compatible
// approximation) with a chars/4 fallback when the encoder is
// unavailable (e.g. no network to fetch the BPE table).
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in text.
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	global   *Counter
	initOnce sync.Once
)

// Get returns the singleton counter.
func Get() *Counter {
	initOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			global = &Counter{encoder: nil}
			return
		}
		global = &Counter{encoder: tkm}
	})
	return global
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder == nil {
		return approximate(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// approximate is the fallback heuristic: roughly 4 chars per token,
// minimum 1 for non-empty text.
func approximate(text string) int {
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Estimate is a convenience wrapper over the singleton.
func Estimate(text string) int {
	return Get().Count(text)
}
