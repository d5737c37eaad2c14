package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace sits below [slog.LevelDebug] and is reserved for full
// Converse request and response payloads. The numeric value -8 follows
// the convention used by Go projects that extend slog with a Trace
// level.
//
// Use sparingly — Trace output is extremely verbose and should only be
// enabled when diagnosing wire-format problems with a model backend.
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts the log_level config field to an [slog.Level].
// Matching is case-insensitive and ignores surrounding whitespace; the
// empty string means Info, so an unset field gets normal verbosity.
//
//   - "trace": full Converse payloads
//   - "debug": per-request detail
//   - "info": normal operation
//   - "warn" or "warning"
//   - "error"
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// NewLogger builds ember's standard text logger: an [slog.TextHandler]
// on w at the given level, with [LevelTrace] rendered by name. Both
// the daemon and the ask subcommand log through this.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: ReplaceLogLevelNames,
	}))
}

// ReplaceLogLevelNames is an [slog.HandlerOptions.ReplaceAttr] function
// that renders [LevelTrace] as "TRACE". Without it slog prints the
// level as "DEBUG-4", which reads as a malfunction in log output.
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
