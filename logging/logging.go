// Package logging wires the engine's leveled log output to
// github.com/joeycumines/logiface, using github.com/joeycumines/stumpy
// as the concrete newline-delimited-JSON event/writer implementation —
// the same L.New(L.WithStumpy(...), ...) construction the teacher's
// logiface-stumpy sub-package demonstrates against its own in-module
// copy of these two libraries, here applied to their standalone
// published versions.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type every package in this module logs
// through.
type Logger = logiface.Logger[*stumpy.Event]

// Level re-exports logiface's syslog-derived level type, so callers
// configuring a Logger don't need to import logiface directly.
type Level = logiface.Level

// Levels, named to match Config.LogLevel's TRACE..SILENT enum mapping
// (see package config's LogLevel.LoggingLevel).
const (
	LevelTrace    = logiface.LevelTrace
	LevelDebug    = logiface.LevelDebug
	LevelInfo     = logiface.LevelInformational
	LevelWarn     = logiface.LevelWarning
	LevelError    = logiface.LevelError
	LevelFatal    = logiface.LevelAlert
	LevelDisabled = logiface.LevelDisabled
)

// New builds a logger writing newline-delimited JSON to w, filtered to
// minLevel and above. A nil w defaults to os.Stderr, matching stumpy's
// own WithStumpy default.
func New(w io.Writer, minLevel Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](minLevel),
	)
}

// Discard returns a logger that drops every event, for tests.
func Discard() *Logger {
	return New(io.Discard, LevelDisabled)
}

// Fatal logs msg at LevelFatal (logiface's Alert, per spec.md's
// LOG_FATAL mapping) and then panics, standing in for the original's
// fatal()'s abort(): in Go, the caller of a library is expected to
// recover or let the process crash with a stack trace rather than have
// the library call os.Exit out from under it.
func Fatal(l *Logger, msg string, err error) {
	l.Alert().Err(err).Log(msg)
	panic(msg)
}
