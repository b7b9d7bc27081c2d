// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config loads daemon configuration from nerve.yaml and the
// NERVE_ environment, with sane defaults for everything.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AgenticCurve/nerve-sub002/pkg/proxy"
)

// Config is the full daemon configuration tree.
type Config struct {
	ServerName string         `mapstructure:"server_name"`
	Log        LogConfig      `mapstructure:"log"`
	Listen     ListenConfig   `mapstructure:"listen"`
	Terminal   TerminalConfig `mapstructure:"terminal"`
	Graph      GraphConfig    `mapstructure:"graph"`
	History    HistoryConfig  `mapstructure:"history"`
	Proxy      ProxyConfig    `mapstructure:"proxy"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ListenConfig selects transports. Empty addresses disable the
// corresponding listener.
type ListenConfig struct {
	Unix         string        `mapstructure:"unix"`
	TCP          string        `mapstructure:"tcp"`
	HTTP         string        `mapstructure:"http"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TerminalConfig carries the readiness tunables shared by every
// terminal node.
type TerminalConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ReadyChecks    int           `mapstructure:"ready_checks"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

type GraphConfig struct {
	Workers int `mapstructure:"workers"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ProxyConfig tunes every LLM proxy instance the daemon starts.
type ProxyConfig struct {
	Retry            proxy.RetryPolicy `mapstructure:"retry"`
	BreakerThreshold int               `mapstructure:"breaker_threshold"`
	BreakerRecovery  time.Duration     `mapstructure:"breaker_recovery"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerName: "nerve",
		Log:        LogConfig{Level: "info", Format: "console"},
		Listen: ListenConfig{
			Unix:         filepath.Join(DataDir(), "nerve.sock"),
			HTTP:         "127.0.0.1:7777",
			WriteTimeout: 5 * time.Second,
		},
		Terminal: TerminalConfig{
			PollInterval:   2 * time.Second,
			ReadyChecks:    2,
			SettleDelay:    500 * time.Millisecond,
			DefaultTimeout: 300 * time.Second,
		},
		Graph:   GraphConfig{Workers: 4},
		History: HistoryConfig{Enabled: true, Dir: SubDir("history")},
		Proxy: ProxyConfig{
			Retry:            proxy.DefaultRetryPolicy(),
			BreakerThreshold: 5,
			BreakerRecovery:  30 * time.Second,
		},
	}
}

// Load reads nerve.yaml and the NERVE_ environment on top of the
// defaults. path may name a config file directly; when empty, the
// current directory and the data directory are searched. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nerve")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		// Defaults apply when no file was found during search; an
		// explicitly named file must exist.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Terminal.ReadyChecks < 1 {
		return fmt.Errorf("terminal.ready_checks must be >= 1, got %d", c.Terminal.ReadyChecks)
	}
	if c.Graph.Workers < 1 {
		return fmt.Errorf("graph.workers must be >= 1, got %d", c.Graph.Workers)
	}
	if c.Listen.Unix == "" && c.Listen.TCP == "" && c.Listen.HTTP == "" {
		return fmt.Errorf("no listener configured: set listen.unix, listen.tcp or listen.http")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server_name", d.ServerName)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("listen.unix", d.Listen.Unix)
	v.SetDefault("listen.tcp", d.Listen.TCP)
	v.SetDefault("listen.http", d.Listen.HTTP)
	v.SetDefault("listen.write_timeout", d.Listen.WriteTimeout)
	v.SetDefault("terminal.poll_interval", d.Terminal.PollInterval)
	v.SetDefault("terminal.ready_checks", d.Terminal.ReadyChecks)
	v.SetDefault("terminal.settle_delay", d.Terminal.SettleDelay)
	v.SetDefault("terminal.default_timeout", d.Terminal.DefaultTimeout)
	v.SetDefault("graph.workers", d.Graph.Workers)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dir", d.History.Dir)
	v.SetDefault("proxy.retry.max_retries", d.Proxy.Retry.MaxRetries)
	v.SetDefault("proxy.retry.base_delay", d.Proxy.Retry.BaseDelay)
	v.SetDefault("proxy.retry.max_delay", d.Proxy.Retry.MaxDelay)
	v.SetDefault("proxy.breaker_threshold", d.Proxy.BreakerThreshold)
	v.SetDefault("proxy.breaker_recovery", d.Proxy.BreakerRecovery)
}
