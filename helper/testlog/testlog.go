// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package testlog creates hclog loggers backed by testing.T to ease
// logging in tests.
package testlog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// LogPrinter is the methods of testing.T (or testing.B) needed by the
// test logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a LogPrinter.
type writer struct {
	t LogPrinter
}

// Write to an underlying LogPrinter. Never returns an error.
func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// HCLogger returns a new test logger with the level set by
// GUILDHALL_TEST_LOG_LEVEL (trace when unset).
func HCLogger(t LogPrinter) hclog.Logger {
	level := hclog.Trace
	if env := os.Getenv("GUILDHALL_TEST_LOG_LEVEL"); env != "" {
		level = hclog.LevelFromString(env)
	}

	return hclog.New(&hclog.LoggerOptions{
		Level:           level,
		Output:          &writer{t},
		IncludeLocation: true,
	})
}
