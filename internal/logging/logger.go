// Package logging wraps log/slog with the small amount of ceremony WARP's
// subsystems need: a per-component handle and an easy JSON/text toggle.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config controls how a Logger renders.
type Config struct {
	Level      slog.Level
	JSONFormat bool
	AddSource  bool
	Output     io.Writer // defaults to os.Stderr
}

// New builds a *slog.Logger configured per cfg. Every WARP component should
// hold its own `*slog.Logger` (via `With("component", name)`) rather than
// reading a package-level global, so multiple Engines can log independently.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// Component returns a child logger tagged with the owning subsystem name.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", name)
}

// Discard returns a logger that drops everything, for tests that don't care
// about log output but still need a non-nil logger to pass around.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
