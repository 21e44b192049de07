// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn := New(Config{
		Level:   "debug",
		Service: "testsvc",
		LogDir:  dir,
		Quiet:   true,
	})

	logger.Info("chain updated", "usage_type", "lineage_qa", "backends", 3)
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v err=%v", entries, err)
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "testsvc_") || !strings.HasSuffix(name, ".log") {
		t.Errorf("unexpected log file name %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(data[:len(data)-1], &record); err != nil {
		t.Fatalf("log file is not JSON lines: %v", err)
	}
	if record["msg"] != "chain updated" {
		t.Errorf("expected msg attribute, got %v", record["msg"])
	}
	if record["service"] != "testsvc" {
		t.Errorf("expected service attribute, got %v", record["service"])
	}
}

func TestNew_LevelFilter(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn := New(Config{
		Level:   "warn",
		Service: "filter",
		LogDir:  dir,
		Quiet:   true,
	})

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Count(string(data), "\n")
	if lines != 1 {
		t.Errorf("expected 1 record after filtering, got %d:\n%s", lines, data)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("absolute path changed: %q", got)
	}
}
