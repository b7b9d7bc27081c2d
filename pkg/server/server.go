// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AgenticCurve/nerve-sub002/pkg/engine"
)

// Config selects the listeners to expose. Empty addresses disable the
// corresponding transport.
type Config struct {
	UnixSocket string
	TCPAddr    string
	HTTPAddr   string

	// WriteTimeout bounds one WebSocket event write. Default 5s.
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Server ties the engine and the event hub to the configured
// transports.
type Server struct {
	cfg          Config
	engine       *engine.Engine
	hub          *Hub
	logger       *zap.Logger
	writeTimeout time.Duration

	httpServer *http.Server

	mu        sync.Mutex
	listeners []net.Listener

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New creates a server. The hub must be the engine's event sink so
// subscribers see everything the engine emits.
func New(eng *engine.Engine, hub *Hub, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Server{
		cfg:          cfg,
		engine:       eng,
		hub:          hub,
		logger:       cfg.Logger,
		writeTimeout: cfg.WriteTimeout,
		shutdownCh:   make(chan struct{}),
	}
}

// RequestShutdown asks the serve loop to stop. Idempotent; also wired
// to POST /api/shutdown.
func (s *Server) RequestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// ShutdownRequested signals cooperative shutdown.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdownCh }

// Addrs returns the bound listener addresses, for logging and tests.
func (s *Server) Addrs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.listeners))
	for _, ln := range s.listeners {
		out = append(out, ln.Addr().String())
	}
	return out
}

// Run binds every configured listener and serves until the context is
// cancelled or shutdown is requested, then tears everything down.
func (s *Server) Run(ctx context.Context) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(serveCtx)

	if s.cfg.UnixSocket != "" {
		// A previous unclean exit leaves the socket file behind.
		_ = os.Remove(s.cfg.UnixSocket)
		ln, err := net.Listen("unix", s.cfg.UnixSocket)
		if err != nil {
			return err
		}
		s.track(ln)
		s.logger.Info("listening", zap.String("transport", "unix"), zap.String("addr", s.cfg.UnixSocket))
		g.Go(func() error {
			s.acceptLoop(gctx, ln)
			return nil
		})
	}

	if s.cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			s.closeListeners()
			return err
		}
		s.track(ln)
		s.logger.Info("listening", zap.String("transport", "tcp"), zap.String("addr", ln.Addr().String()))
		g.Go(func() error {
			s.acceptLoop(gctx, ln)
			return nil
		})
	}

	if s.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			s.closeListeners()
			return err
		}
		s.track(ln)
		s.httpServer = &http.Server{
			Handler:           s.httpHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.logger.Info("listening", zap.String("transport", "http"), zap.String("addr", ln.Addr().String()))
		g.Go(func() error {
			err := s.httpServer.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
				return err
			}
			return nil
		})
	}

	// Wait for cancellation or a shutdown request, then unwind.
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.shutdownCh:
		}
		cancel()
		if s.httpServer != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = s.httpServer.Shutdown(shutdownCtx)
		}
		s.closeListeners()
		return nil
	})

	err := g.Wait()
	if s.cfg.UnixSocket != "" {
		_ = os.Remove(s.cfg.UnixSocket)
	}
	s.engine.Shutdown()
	return err
}

func (s *Server) track(ln net.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.listeners = nil
}
