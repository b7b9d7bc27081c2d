// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package proxy

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// ProviderConfig is the provider spec a terminal node declares to get
// its own loopback proxy.
type ProviderConfig struct {
	APIFormat string `json:"api_format" mapstructure:"api_format"` // anthropic | openai
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model,omitempty" mapstructure:"model"`
}

// ManagerConfig tunes every proxy the manager starts.
type ManagerConfig struct {
	Retry            RetryPolicy
	BreakerThreshold int
	BreakerRecovery  time.Duration
	Logger           *zap.Logger
}

// Manager owns the node_id → proxy instance mapping.
type Manager struct {
	cfg ManagerConfig

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Manager{cfg: cfg, instances: make(map[string]*Instance)}
}

// Start binds a proxy for a node on an ephemeral loopback port,
// health-checks it and registers the instance. Starting a second proxy
// for the same node is a conflict.
func (m *Manager) Start(nodeID string, cfg ProviderConfig) (*Instance, error) {
	if cfg.BaseURL == "" {
		return nil, protocol.NewError(protocol.KindInvalidInput, "provider base_url is required")
	}

	var handler messagesHandler
	breaker := NewBreaker(m.cfg.BreakerThreshold, m.cfg.BreakerRecovery)
	upstream := NewUpstream(nil, breaker, m.cfg.Retry, m.cfg.Logger)
	switch cfg.APIFormat {
	case "anthropic":
		handler = NewPassthrough(cfg.BaseURL, cfg.APIKey, cfg.Model, upstream, m.cfg.Logger)
	case "openai":
		handler = NewTransform(cfg.BaseURL, cfg.APIKey, cfg.Model, upstream, m.cfg.Logger)
	default:
		return nil, protocol.Errorf(protocol.KindInvalidInput,
			"unknown api_format %q (want anthropic or openai)", cfg.APIFormat)
	}

	m.mu.Lock()
	if _, exists := m.instances[nodeID]; exists {
		m.mu.Unlock()
		return nil, protocol.Errorf(protocol.KindConflict, "proxy already running for node %q", nodeID)
	}
	m.mu.Unlock()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, protocol.Errorf(protocol.KindBackendError, "bind proxy port: %v", err)
	}

	inst := &Instance{
		NodeID:   nodeID,
		URL:      fmt.Sprintf("http://%s", listener.Addr().String()),
		listener: listener,
	}
	inst.server = &http.Server{
		Handler:           newMux(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if serveErr := inst.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			m.cfg.Logger.Warn("proxy server exited",
				zap.String("node", nodeID),
				zap.Error(serveErr),
			)
		}
	}()

	if err := m.healthCheck(inst.URL); err != nil {
		_ = inst.shutdown(time.Second)
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.instances[nodeID]; exists {
		m.mu.Unlock()
		_ = inst.shutdown(time.Second)
		return nil, protocol.Errorf(protocol.KindConflict, "proxy already running for node %q", nodeID)
	}
	m.instances[nodeID] = inst
	m.mu.Unlock()

	m.cfg.Logger.Info("proxy started",
		zap.String("node", nodeID),
		zap.String("url", inst.URL),
		zap.String("api_format", cfg.APIFormat),
	)
	return inst, nil
}

// healthCheck polls GET /health until the listener answers.
func (m *Manager) healthCheck(url string) error {
	client := &http.Client{Timeout: time.Second}
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		resp, err := client.Get(url + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("health returned %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return protocol.Errorf(protocol.KindBackendError, "proxy failed health check: %v", lastErr)
}

// Get returns the instance bound to a node.
func (m *Manager) Get(nodeID string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[nodeID]
	if !ok {
		return nil, protocol.Errorf(protocol.KindNotFound, "no proxy for node %q", nodeID)
	}
	return inst, nil
}

// Stop tears down a node's proxy and frees its port.
func (m *Manager) Stop(nodeID string) error {
	m.mu.Lock()
	inst, ok := m.instances[nodeID]
	if ok {
		delete(m.instances, nodeID)
	}
	m.mu.Unlock()
	if !ok {
		return protocol.Errorf(protocol.KindNotFound, "no proxy for node %q", nodeID)
	}
	return inst.shutdown(5 * time.Second)
}

// StopAll tears down every proxy; called on engine shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			m.cfg.Logger.Warn("proxy stop failed", zap.String("node", id), zap.Error(err))
		}
	}
}
