// Package logger builds slog loggers for trellis applications.
//
// Every logger created by New decorates its records with request scoped
// attributes pulled from the context (see ContextExtractor and WithAttrs)
// and can fan error records out to Sentry.
//
//	log := logger.New(
//		logger.WithLevel(slog.LevelDebug),
//		logger.WithComponent("web"),
//		logger.WithSentry(logger.SentryConfig{DSN: os.Getenv("SENTRY_DSN")}),
//	)
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the record encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type options struct {
	output     io.Writer
	level      slog.Leveler
	format     Format
	component  string
	extractors []ContextExtractor
	sentry     *SentryConfig
	addSource  bool
}

// Option configures New.
type Option func(*options)

// WithOutput sets the destination writer. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// WithLevel sets the minimum level. Defaults to slog.LevelInfo.
func WithLevel(level slog.Leveler) Option {
	return func(o *options) {
		if level != nil {
			o.level = level
		}
	}
}

// WithFormat selects JSON or text output. Defaults to JSON.
func WithFormat(f Format) Option {
	return func(o *options) {
		if f == FormatJSON || f == FormatText {
			o.format = f
		}
	}
}

// WithComponent adds a static "component" attribute to every record.
func WithComponent(name string) Option {
	return func(o *options) {
		o.component = name
	}
}

// WithExtractors registers context extractors run on every record.
func WithExtractors(extractors ...ContextExtractor) Option {
	return func(o *options) {
		o.extractors = append(o.extractors, extractors...)
	}
}

// WithSource adds the caller's file and line to every record.
func WithSource() Option {
	return func(o *options) {
		o.addSource = true
	}
}

// New creates a structured logger.
func New(opts ...Option) *slog.Logger {
	o := &options{
		output: os.Stdout,
		level:  slog.LevelInfo,
		format: FormatJSON,
	}
	for _, opt := range opts {
		opt(o)
	}

	hopts := &slog.HandlerOptions{Level: o.level, AddSource: o.addSource}

	var handler slog.Handler
	if o.format == FormatText {
		handler = slog.NewTextHandler(o.output, hopts)
	} else {
		handler = slog.NewJSONHandler(o.output, hopts)
	}

	if o.sentry != nil {
		if sh := newSentryHandler(*o.sentry, handler); sh != nil {
			handler = newFanout(handler, sh)
		}
	}

	log := slog.New(newContextHandler(handler, o.extractors...))
	if o.component != "" {
		log = log.With(slog.String("component", o.component))
	}
	return log
}

// NewNope creates a logger that discards all output.
// Use it as the default when logging is not configured, and in tests.
func NewNope() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a level.
// Unknown values yield slog.LevelInfo.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
