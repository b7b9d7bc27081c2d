// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nerve.yaml"))
	require.Error(t, err, "explicit missing file must fail")

	// Search mode falls back to defaults when no file exists.
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer func() { _ = os.Chdir(cwd) }()

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "nerve", cfg.ServerName)
	assert.Equal(t, 2*time.Second, cfg.Terminal.PollInterval)
	assert.Equal(t, 2, cfg.Terminal.ReadyChecks)
	assert.Equal(t, 500*time.Millisecond, cfg.Terminal.SettleDelay)
	assert.Equal(t, 300*time.Second, cfg.Terminal.DefaultTimeout)
	assert.Equal(t, 4, cfg.Graph.Workers)
	assert.True(t, cfg.History.Enabled)
	assert.Contains(t, cfg.History.Dir, "history")
	assert.Equal(t, 2, cfg.Proxy.Retry.MaxRetries)
	assert.Equal(t, "127.0.0.1:7777", cfg.Listen.HTTP)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nerve.yaml")
	yaml := `
server_name: lab
log:
  level: debug
  format: json
listen:
  tcp: "127.0.0.1:9000"
  http: ""
  unix: ""
terminal:
  poll_interval: 1s
  ready_checks: 3
graph:
  workers: 8
history:
  enabled: false
proxy:
  retry:
    max_retries: 5
    base_delay: 100ms
  breaker_threshold: 2
  breaker_recovery: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", cfg.ServerName)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen.TCP)
	assert.Empty(t, cfg.Listen.HTTP)
	assert.Equal(t, time.Second, cfg.Terminal.PollInterval)
	assert.Equal(t, 3, cfg.Terminal.ReadyChecks)
	// Unset keys keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Terminal.SettleDelay)
	assert.Equal(t, 8, cfg.Graph.Workers)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 5, cfg.Proxy.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Proxy.Retry.BaseDelay)
	assert.Equal(t, 2, cfg.Proxy.BreakerThreshold)
	assert.Equal(t, 10*time.Second, cfg.Proxy.BreakerRecovery)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NERVE_SERVER_NAME", "from-env")
	t.Setenv("NERVE_GRAPH_WORKERS", "16")
	t.Setenv("NERVE_TERMINAL_POLL_INTERVAL", "5s")

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer func() { _ = os.Chdir(cwd) }()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ServerName)
	assert.Equal(t, 16, cfg.Graph.Workers)
	assert.Equal(t, 5*time.Second, cfg.Terminal.PollInterval)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "zero ready checks",
			yaml: "terminal:\n  ready_checks: 0\n",
			want: "ready_checks",
		},
		{
			name: "zero workers",
			yaml: "graph:\n  workers: 0\n",
			want: "workers",
		},
		{
			name: "no listeners",
			yaml: "listen:\n  unix: \"\"\n  tcp: \"\"\n  http: \"\"\n",
			want: "no listener",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nerve.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("NERVE_DATA_DIR", "/custom/nerve")
	assert.Equal(t, "/custom/nerve", DataDir())
	assert.Equal(t, "/custom/nerve/history", SubDir("history"))

	t.Setenv("NERVE_DATA_DIR", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".nerve"), DataDir())
}
