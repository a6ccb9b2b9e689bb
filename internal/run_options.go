package internal

import (
	"context"
	"log/slog"
	"time"
)

// RunOption configures Run.
type RunOption func(*runtimeConfig)

func newRuntimeConfig(opts ...RunOption) runtimeConfig {
	cfg := runtimeConfig{
		domains:         make(map[string]*App),
		shutdownTimeout: defaultShutdownTimeout,
		idleTimeout:     defaultIdleTimeout,
		maxHeaderBytes:  defaultMaxHeaderBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Address is the listen address, ":8000" when empty.
func Address(addr string) RunOption {
	return func(c *runtimeConfig) {
		if addr != "" {
			c.address = addr
		}
	}
}

// Logger receives the server lifecycle logs. Nil keeps them silent.
func Logger(l *slog.Logger) RunOption {
	return func(c *runtimeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// ShutdownTimeout bounds the whole shutdown: draining connections, closing
// the apps and running the shutdown hooks. Default: 30s.
func ShutdownTimeout(d time.Duration) RunOption {
	return func(c *runtimeConfig) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// IdleTimeout closes keep-alive connections idle for d. Default: 120s.
func IdleTimeout(d time.Duration) RunOption {
	return func(c *runtimeConfig) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// MaxHeaderBytes caps request header size. Default: 1 MiB.
func MaxHeaderBytes(n int) RunOption {
	return func(c *runtimeConfig) {
		if n > 0 {
			c.maxHeaderBytes = n
		}
	}
}

// StartupHook runs once the apps listen on their buses and before the
// socket opens. An error aborts Run.
func StartupHook(fn func(context.Context) error) RunOption {
	return func(c *runtimeConfig) {
		if fn != nil {
			c.startupHooks = append(c.startupHooks, fn)
		}
	}
}

// ShutdownHook runs after the apps closed, in registration order.
//
//	trellis.ShutdownHook(redis.Shutdown(client))
func ShutdownHook(fn func(context.Context) error) RunOption {
	return func(c *runtimeConfig) {
		if fn != nil {
			c.shutdownHooks = append(c.shutdownHooks, fn)
		}
	}
}

// Domain serves app for hosts matching pattern, either exact
// ("api.acme.com") or one wildcard label ("*.acme.com").
func Domain(pattern string, app *App) RunOption {
	return func(c *runtimeConfig) {
		if pattern != "" && app != nil {
			c.domains[pattern] = app
		}
	}
}

// Fallback serves hosts no Domain matched, or every host without domains.
func Fallback(app *App) RunOption {
	return func(c *runtimeConfig) {
		if app != nil {
			c.fallback = app
		}
	}
}

// WithContext sets the parent of the signal context and of every request
// context. Canceling it stops the server.
func WithContext(ctx context.Context) RunOption {
	return func(c *runtimeConfig) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}
