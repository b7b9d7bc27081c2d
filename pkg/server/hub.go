// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package server exposes the engine over Unix-socket, TCP and HTTP
// transports, with one event hub fanning engine events out to every
// connected observer.
package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// subscriberBuffer is the per-subscriber event queue depth. A consumer
// that falls this far behind starts losing events rather than stalling
// the engine.
const subscriberBuffer = 256

// Hub is the single fan-out point for engine events. It implements
// protocol.EventSink and never blocks the emitter.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[int]chan protocol.Event
	nextID  int
	dropped int64
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, subs: make(map[int]chan protocol.Event)}
}

// Emit broadcasts to every subscriber. Slow subscribers lose events.
func (h *Hub) Emit(ev protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
			h.logger.Debug("event dropped for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("event", string(ev.Type)),
			)
		}
	}
}

// Subscribe registers an event consumer. The returned cancel removes
// the subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan protocol.Event, func()) {
	ch := make(chan protocol.Event, subscriberBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Dropped returns the number of events lost to slow subscribers.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
