package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// SentryConfig holds Sentry integration settings.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	// MinLevel is the lowest level stored as a Sentry log entry.
	// Errors always become Sentry events.
	MinLevel slog.Level
}

// WithSentry sends warning and error records to Sentry.
// An empty DSN disables the integration, so local runs need no setup.
func WithSentry(cfg SentryConfig) Option {
	return func(o *options) {
		if cfg.DSN == "" {
			return
		}
		o.sentry = &cfg
	}
}

func newSentryHandler(cfg SentryConfig, fallback slog.Handler) slog.Handler {
	env := cfg.Environment
	if env == "" {
		env = "production"
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: env,
		Release:     cfg.Release,
		EnableLogs:  true,
	}); err != nil {
		_ = fallback.Handle(context.Background(), slog.NewRecord(
			time.Now(), slog.LevelError, "failed to initialize sentry: "+err.Error(), 0,
		))
		return nil
	}

	logLevels := []slog.Level{slog.LevelWarn, slog.LevelError}
	if cfg.MinLevel >= slog.LevelError {
		logLevels = []slog.Level{slog.LevelError}
	}

	return sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   logLevels,
	}.NewSentryHandler(context.Background())
}
