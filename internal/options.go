package internal

import (
	"fmt"
	"log/slog"

	"github.com/ndtt/trellis/pkg/cache"
	"github.com/ndtt/trellis/pkg/cluster"
	"github.com/ndtt/trellis/pkg/config"
	"github.com/ndtt/trellis/pkg/health"
	"github.com/ndtt/trellis/pkg/metrics"
	"github.com/ndtt/trellis/pkg/view"
)

// Option configures the application.
type Option func(*App)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(a *App) {
		a.cfg = cfg
	}
}

// WithConfigFile loads path over the defaults and environment. The file is
// read again on a reconfigure message. A load error panics.
//
// Example:
//
//	trellis.New(
//	    trellis.WithConfigFile("config.yaml"),
//	)
func WithConfigFile(path string) Option {
	return func(a *App) {
		cfg, err := config.Load(path)
		if err != nil {
			panic(fmt.Errorf("trellis: %w", err))
		}
		a.cfg = cfg
		a.configPath = path
	}
}

// WithDebug toggles debug mode: no caching headers, error details in
// built-in responses, debug-only route flags.
func WithDebug(on bool) Option {
	return func(a *App) {
		a.cfg.Debug = on
	}
}

// WithLogger sets the application logger.
// If nil, logging stays disabled.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAuthorize sets the authorization delegate run before every action.
func WithAuthorize(fn AuthorizeFunc) Option {
	return func(a *App) {
		if fn != nil {
			a.authorize = fn.authorizer()
		}
	}
}

// WithUserAuthorize sets a delegate that only returns the user; nil means
// not authorized.
func WithUserAuthorize(fn UserAuthorizeFunc) Option {
	return func(a *App) {
		if fn != nil {
			a.authorize = fn.authorizer()
		}
	}
}

// WithSchemas enables "*Group/Name" route flags. Registering a route with
// an unknown schema panics.
//
// Example:
//
//	reg := schema.NewRegistry()
//	reg.MustAdd("users", "create", userSchema)
//	trellis.New(trellis.WithSchemas(reg))
func WithSchemas(v SchemaValidator) Option {
	return func(a *App) {
		a.schemas = v
	}
}

// WithViews sets the renderer used by Controller.View.
func WithViews(r view.Renderer) Option {
	return func(a *App) {
		a.views = r
	}
}

// WithCache replaces the in-memory response cache, for example with
// cache.NewRedis.
func WithCache(store cache.Store[[]byte]) Option {
	return func(a *App) {
		a.cache = store
	}
}

// WithBus sets the bus for process messages. Defaults to an in-process bus.
func WithBus(bus cluster.Bus) Option {
	return func(a *App) {
		a.bus = bus
	}
}

// WithStats sets the metrics sink.
func WithStats(s *metrics.Stats) Option {
	return func(a *App) {
		a.stats = s
	}
}

// WithHealthCheck adds a named readiness check served on /health/ready.
//
// Example:
//
//	trellis.WithHealthCheck("redis", redis.Healthcheck(client))
func WithHealthCheck(name string, fn health.CheckFunc) Option {
	return func(a *App) {
		if a.health == nil {
			a.health = health.New(nil, 0)
		}
		a.health.Add(name, fn)
	}
}

// WithMiddleware registers a named middleware.
func WithMiddleware(name string, fn MiddlewareFunc) Option {
	return func(a *App) {
		a.middleware.add(name, fn)
	}
}

// WithModules installs modules at the end of New.
func WithModules(mods ...Module) Option {
	return func(a *App) {
		a.pending = append(a.pending, mods...)
	}
}

// WithHandlers registers the handlers' routes once the route tables exist.
//
// Example:
//
//	trellis.New(
//	    trellis.WithHandlers(handlers.NewUsers(repo), handlers.NewPages()),
//	)
func WithHandlers(h ...Handler) Option {
	return func(a *App) {
		a.handlers = append(a.handlers, h...)
	}
}

// WithGlobalMiddleware runs the named middleware before every route.
func WithGlobalMiddleware(names ...string) Option {
	return func(a *App) {
		a.use = append(a.use, names...)
	}
}
