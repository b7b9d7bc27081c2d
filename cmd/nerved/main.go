// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// nerved is the nerve daemon: it hosts sessions of terminal, LLM and
// utility nodes and exposes them over Unix-socket, TCP and HTTP
// transports.
package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AgenticCurve/nerve-sub002/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "nerved",
	Short:   "nerve daemon - session and node control plane",
	Version: version.Get(),
	Long: heredoc.Doc(`
		nerved hosts sessions of nodes (terminals, LLM calls, chat
		loops, bash, MCP servers) and executes graphs and workflows
		over them. Clients talk to it with JSON command envelopes over
		a Unix socket, TCP, or HTTP, and observe everything through a
		broadcast event stream.
	`),
}

func init() {
	// Local .env is a developer convenience, never required.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./nerve.yaml, then $NERVE_DATA_DIR/nerve.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
