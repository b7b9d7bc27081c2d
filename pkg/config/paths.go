// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the nerve data directory.
//
// Priority:
// 1. NERVE_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.nerve (default)
//
// The returned path is always absolute. Tilde (~) is expanded to the
// user's home directory; relative paths are made absolute. This is
// read straight from os.Getenv because it is needed to locate the
// config file before viper is initialized.
func DataDir() string {
	if dir := os.Getenv("NERVE_DATA_DIR"); dir != "" {
		return expandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nerve"
	}
	return filepath.Join(home, ".nerve")
}

// SubDir returns a subdirectory within the nerve data directory.
// Example: SubDir("history") returns ~/.nerve/history.
func SubDir(name string) string {
	return filepath.Join(DataDir(), name)
}

// expandPath expands ~ and resolves to an absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
