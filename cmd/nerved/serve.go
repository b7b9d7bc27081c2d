// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/internal/log"
	"github.com/AgenticCurve/nerve-sub002/pkg/config"
	"github.com/AgenticCurve/nerve-sub002/pkg/engine"
	"github.com/AgenticCurve/nerve-sub002/pkg/history"
	"github.com/AgenticCurve/nerve-sub002/pkg/node"
	"github.com/AgenticCurve/nerve-sub002/pkg/proxy"
	"github.com/AgenticCurve/nerve-sub002/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nerve daemon",
	Long: heredoc.Doc(`
		Start the daemon with the configured listeners.

		By default it serves a Unix socket at $NERVE_DATA_DIR/nerve.sock
		and HTTP on 127.0.0.1:7777. Press Ctrl+C to shut down: running
		nodes are stopped, proxies torn down and the history log closed.
	`),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("unix", "", "unix socket path (overrides config)")
	serveCmd.Flags().String("tcp", "", "tcp listen address (overrides config)")
	serveCmd.Flags().String("http", "", "http listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("unix"); v != "" {
		cfg.Listen.Unix = v
	}
	if v, _ := cmd.Flags().GetString("tcp"); v != "" {
		cfg.Listen.TCP = v
	}
	if v, _ := cmd.Flags().GetString("http"); v != "" {
		cfg.Listen.HTTP = v
	}

	log.Init(log.Env(cfg.Log.Level), cfg.Log.Format)
	logger := log.Logger()
	defer func() { _ = log.Sync() }()

	var hist *history.Writer
	if cfg.History.Enabled {
		hist = history.NewWriter(cfg.History.Dir, logger.Named("history"))
	}

	proxies := proxy.NewManager(proxy.ManagerConfig{
		Retry:            cfg.Proxy.Retry,
		BreakerThreshold: cfg.Proxy.BreakerThreshold,
		BreakerRecovery:  cfg.Proxy.BreakerRecovery,
		Logger:           logger.Named("proxy"),
	})

	hub := server.NewHub(logger.Named("hub"))
	eng := engine.New(engine.Config{
		ServerName:   cfg.ServerName,
		Events:       hub,
		Logger:       logger.Named("engine"),
		History:      hist,
		Proxies:      proxies,
		GraphWorkers: cfg.Graph.Workers,
		Terminal: node.TerminalConfig{
			PollInterval:   cfg.Terminal.PollInterval,
			ReadyChecks:    cfg.Terminal.ReadyChecks,
			SettleDelay:    cfg.Terminal.SettleDelay,
			DefaultTimeout: cfg.Terminal.DefaultTimeout,
		},
	})

	srv := server.New(eng, hub, server.Config{
		UnixSocket:   cfg.Listen.Unix,
		TCPAddr:      cfg.Listen.TCP,
		HTTPAddr:     cfg.Listen.HTTP,
		WriteTimeout: cfg.Listen.WriteTimeout,
		Logger:       logger.Named("server"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		srv.RequestShutdown()
	}()

	logger.Info("nerve daemon starting",
		zap.String("server_name", cfg.ServerName),
		zap.String("unix", cfg.Listen.Unix),
		zap.String("tcp", cfg.Listen.TCP),
		zap.String("http", cfg.Listen.HTTP),
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error("daemon exited with error", zap.Error(err))
		return err
	}
	logger.Info("daemon stopped")
	return nil
}
