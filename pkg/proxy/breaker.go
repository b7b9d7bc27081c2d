// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package proxy runs per-node loopback LLM proxies: passthrough to
// Anthropic-compatible upstreams and a dialect transform to OpenAI
// chat completions.
package proxy

import (
	"sync"
	"time"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// BreakerState enumerates the circuit breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	// DefaultBreakerThreshold consecutive failures open the circuit.
	DefaultBreakerThreshold = 5
	// DefaultBreakerRecovery is how long the circuit stays open before
	// one probe is allowed through.
	DefaultBreakerRecovery = 30 * time.Second
)

// Breaker is a circuit breaker over the upstream HTTP client.
// CLOSED counts consecutive failures; reaching the threshold opens
// the circuit. While OPEN every call fails fast with circuit_open.
// After the recovery timeout one probe runs HALF_OPEN: success closes
// the circuit, failure reopens it.
type Breaker struct {
	threshold int
	recovery  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker. Zero arguments take defaults.
func NewBreaker(threshold int, recovery time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if recovery <= 0 {
		recovery = DefaultBreakerRecovery
	}
	return &Breaker{threshold: threshold, recovery: recovery, state: BreakerClosed}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may proceed. While open within the
// recovery window it returns a circuit_open error; after the window a
// single probe is admitted in half-open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(b.openedAt) < b.recovery {
			return protocol.NewError(protocol.KindCircuitOpen, "upstream circuit is open")
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return protocol.NewError(protocol.KindCircuitOpen, "upstream circuit is probing")
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record reports the outcome of an admitted request.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.state = BreakerClosed
		b.failures = 0
		b.probing = false
		return
	}
	b.probing = false
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.failures = 0
	}
}
