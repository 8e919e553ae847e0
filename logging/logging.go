// Package logging configures the process-wide slog logger: a console handler
// (text or json), an optional debug-level file sink and optional forwarding of
// records to a chat webhook.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects handlers and levels.
type Options struct {
	Level        slog.Level
	Format       string // text | json
	File         string
	WebhookURL   string
	WebhookLevel slog.Level
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_FILE, LOG_WEBHOOK_URL
// (DISCORD_WEBHOOK_URL is accepted too) and LOG_WEBHOOK_LEVEL.
func OptionsFromEnv() (Options, error) {
	var errs []error
	lvl, err := ParseLevel(os.Getenv("LOG_LEVEL"), slog.LevelInfo)
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	whLvl, err := ParseLevel(os.Getenv("LOG_WEBHOOK_LEVEL"), slog.LevelWarn)
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_WEBHOOK_LEVEL: %w", err))
	}
	url := os.Getenv("LOG_WEBHOOK_URL")
	if url == "" {
		url = os.Getenv("DISCORD_WEBHOOK_URL")
	}
	return Options{
		Level:        lvl,
		Format:       strings.ToLower(os.Getenv("LOG_FORMAT")),
		File:         os.Getenv("LOG_FILE"),
		WebhookURL:   url,
		WebhookLevel: whLvl,
	}, errors.Join(errs...)
}

// ParseLevel maps debug|info|warn|error to a level; empty yields def.
func ParseLevel(s string, def slog.Level) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return def, fmt.Errorf("unknown level %q", s)
}

// Setup builds the logger, installs it as the slog default and returns a
// function that flushes the webhook queue and closes the file sink.
func Setup(stdout io.Writer, opts Options) (*slog.Logger, func(), error) {
	handlers := []slog.Handler{newHandler(stdout, opts.Format, opts.Level)}
	var closers []func()

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, newHandler(f, opts.Format, slog.LevelDebug))
		closers = append(closers, func() { _ = f.Close() })
	}
	if opts.WebhookURL != "" {
		wh := NewWebhookHandler(opts.WebhookURL, opts.WebhookLevel)
		handlers = append(handlers, wh)
		closers = append([]func(){wh.Close}, closers...)
	}

	logger := slog.New(Fanout(handlers...))
	slog.SetDefault(logger)
	logger.Info("logger initialized",
		slog.String("level", opts.Level.String()),
		slog.String("format", formatName(opts.Format)),
		slog.Bool("file", opts.File != ""),
		slog.Bool("webhook", opts.WebhookURL != ""))
	return logger, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func formatName(f string) string {
	if f == "json" {
		return "json"
	}
	return "text"
}

func newHandler(w io.Writer, format string, lvl slog.Level) slog.Handler {
	ho := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

type fanout []slog.Handler

// Fanout sends each record to every handler that accepts its level.
func Fanout(hs ...slog.Handler) slog.Handler {
	if len(hs) == 1 {
		return hs[0]
	}
	return fanout(hs)
}

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
