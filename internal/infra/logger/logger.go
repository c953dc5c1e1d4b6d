package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"canon-mcp/internal/infra/config"
)

// Options adjusts logger construction for the active transport.
type Options struct {
	// StdoutReserved is set when stdout carries the MCP stdio protocol;
	// log output requested on stdout is redirected to stderr.
	StdoutReserved bool
	// Attrs are attached to every record, e.g. the camera address.
	Attrs []slog.Attr
}

// New creates a configured *slog.Logger.
// The returned closer function should be deferred to flush/close file handles.
func New(cfg config.LoggerConfig, opts Options) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(resolveOutput(cfg.Output, opts.StdoutReserved))
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	handler := newHandler(writer, cfg.Format, parseLevel(cfg.Level))
	if len(opts.Attrs) > 0 {
		handler = handler.WithAttrs(opts.Attrs)
	}
	return slog.New(handler), closer, nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	ho := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

func resolveOutput(output string, stdoutReserved bool) string {
	if stdoutReserved && strings.EqualFold(output, "stdout") {
		return "stderr"
	}
	return output
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// parseLevel converts a string level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// openOutput returns an io.Writer for the specified output target.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
