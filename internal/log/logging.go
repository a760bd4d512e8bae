// Package log builds the slog.Logger shared by the driver components.
//
// Without a log file, records below error go to stdout and errors go to stderr.
// With a log file, the console only receives errors and the file gets everything
// at the configured level.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below debug. Per-completion and per-sample chatter from the
// stream engine and the anchored timer is logged at this level.
const LevelTrace slog.Level = -8

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Fanout sends every record to each handler that accepts its level.
type Fanout []slog.Handler

func (f Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f Fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (f Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f Fanout) WithGroup(name string) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// Below passes records under a level to h.
type Below struct {
	Level slog.Level
	H     slog.Handler
}

func (b Below) Enabled(ctx context.Context, level slog.Level) bool {
	return level < b.Level && b.H.Enabled(ctx, level)
}

func (b Below) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= b.Level {
		return nil
	}
	return b.H.Handle(ctx, r)
}

func (b Below) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Below{Level: b.Level, H: b.H.WithAttrs(attrs)}
}

func (b Below) WithGroup(name string) slog.Handler {
	return Below{Level: b.Level, H: b.H.WithGroup(name)}
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// NewHandler builds the console handlers writing to out and errOut.
func NewHandler(level slog.Level, out, errOut io.Writer) slog.Handler {
	return Fanout{
		Below{Level: slog.LevelError, H: slog.NewTextHandler(out, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel})},
		slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelError, ReplaceAttr: replaceLevel}),
	}
}

// SetupLogger builds the process logger. The returned closers must be closed on exit.
func SetupLogger(logLevel, logFile string) (*slog.Logger, []io.Closer, error) {
	level := ParseLevel(logLevel)
	if logFile == "" {
		return slog.New(NewHandler(level, os.Stdout, os.Stderr)), nil, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	h := Fanout{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError, ReplaceAttr: replaceLevel}),
		slog.NewTextHandler(f, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}),
	}
	return slog.New(h), []io.Closer{f}, nil
}
