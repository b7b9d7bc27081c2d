// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package proxy

import (
	"strconv"
	"strings"
	"sync"
)

// ToolIDMapper keeps a bijection between provider tool-call ids
// (call_...) and Anthropic-shaped ids (toolu_...) within one
// conversation scope. Mapping the same id twice returns the same
// counterpart.
type ToolIDMapper struct {
	mu          sync.Mutex
	toAnthropic map[string]string
	toProvider  map[string]string
	minted      int
}

// NewToolIDMapper creates an empty mapper.
func NewToolIDMapper() *ToolIDMapper {
	return &ToolIDMapper{
		toAnthropic: make(map[string]string),
		toProvider:  make(map[string]string),
	}
}

// AnthropicID returns the toolu_ id paired with a provider call id.
func (m *ToolIDMapper) AnthropicID(callID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.toAnthropic[callID]; ok {
		return id
	}
	id := m.mint("toolu_", strings.TrimPrefix(callID, "call_"), m.toProvider)
	m.toAnthropic[callID] = id
	m.toProvider[id] = callID
	return id
}

// ProviderID returns the call_ id paired with an Anthropic tool id.
func (m *ToolIDMapper) ProviderID(anthropicID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.toProvider[anthropicID]; ok {
		return id
	}
	id := m.mint("call_", strings.TrimPrefix(anthropicID, "toolu_"), m.toAnthropic)
	m.toProvider[anthropicID] = id
	m.toAnthropic[id] = anthropicID
	return id
}

// mint derives a counterpart id from the stripped suffix, bumping a
// counter on the rare collision so the bijection holds.
func (m *ToolIDMapper) mint(prefix, suffix string, taken map[string]string) string {
	id := prefix + suffix
	for {
		if _, exists := taken[id]; !exists {
			return id
		}
		m.minted++
		id = prefix + suffix + "_" + strconv.Itoa(m.minted)
	}
}
