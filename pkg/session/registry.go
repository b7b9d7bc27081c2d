// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"sort"
	"sync"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// DefaultSession is created on startup and can never be deleted.
// Commands that omit session_id address it.
const DefaultSession = "default"

// Registry is the table of live sessions.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates the registry with the default session in place.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{cfg: cfg.withDefaults(), sessions: make(map[string]*Session)}
	def, err := New(DefaultSession, r.cfg)
	if err != nil {
		// DefaultSession satisfies the name policy.
		panic(err)
	}
	r.sessions[DefaultSession] = def
	return r
}

// Create registers a new empty session.
func (r *Registry) Create(name string) (*Session, error) {
	s, err := New(name, r.cfg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if _, exists := r.sessions[name]; exists {
		r.mu.Unlock()
		return nil, protocol.Errorf(protocol.KindConflict, "session %q already exists", name)
	}
	r.sessions[name] = s
	r.mu.Unlock()

	r.cfg.Events.Emit(protocol.NewEvent(protocol.EventSessionCreated, "", "", map[string]any{
		"session": name,
	}))
	return s, nil
}

// Resolve returns the named session; the empty name addresses the
// default session.
func (r *Registry) Resolve(name string) (*Session, error) {
	if name == "" {
		name = DefaultSession
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, protocol.Errorf(protocol.KindNotFound, "session %q not found", name)
	}
	return s, nil
}

// Delete stops and removes a session. The default session is
// protected.
func (r *Registry) Delete(name string) error {
	if name == "" || name == DefaultSession {
		return protocol.NewError(protocol.KindInvalidInput, "the default session cannot be deleted")
	}
	r.mu.Lock()
	s, ok := r.sessions[name]
	if !ok {
		r.mu.Unlock()
		return protocol.Errorf(protocol.KindNotFound, "session %q not found", name)
	}
	delete(r.sessions, name)
	r.mu.Unlock()

	s.Stop()
	r.cfg.Events.Emit(protocol.NewEvent(protocol.EventSessionDeleted, "", "", map[string]any{
		"session": name,
	}))
	return nil
}

// List returns all sessions sorted by name.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// StopAll stops every session; called on engine shutdown.
func (r *Registry) StopAll() {
	for _, s := range r.List() {
		s.Stop()
	}
}
