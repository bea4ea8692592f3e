// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newCommandLogger writes human-readable text when w is a terminal and
// JSON otherwise (cron, systemd, pipes). WSAA_DEBUG enables debug
// records.
func (a *app) newCommandLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if a.getenv("WSAA_DEBUG") != "" {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}
