package trellis

import (
	"context"
	"log/slog"
	"time"

	"github.com/ndtt/trellis/internal"
	"github.com/ndtt/trellis/pkg/cache"
	"github.com/ndtt/trellis/pkg/cluster"
	"github.com/ndtt/trellis/pkg/config"
	"github.com/ndtt/trellis/pkg/health"
	"github.com/ndtt/trellis/pkg/logger"
	"github.com/ndtt/trellis/pkg/metrics"
	"github.com/ndtt/trellis/pkg/view"
)

// Type aliases - public API
type (
	// App owns the route tables, middleware, caches and background jobs,
	// and serves HTTP.
	App = internal.App

	// Router is the interface handlers use to declare routes.
	Router = internal.Router

	// Handler declares routes on a router.
	Handler = internal.Handler

	// HandlerFunc is the signature of route actions.
	HandlerFunc = internal.HandlerFunc

	// Controller is the per request handle passed to actions.
	// It is a context.Context canceled when the request ends.
	Controller = internal.Controller

	// Request is the inbound request with its derived fields.
	Request = internal.Request

	// Response is the guarded writer that allows one terminal response.
	Response = internal.Response

	// Route is a parsed route.
	Route = internal.Route

	// RouteOption configures a route at registration.
	RouteOption = internal.RouteOption

	// File is an uploaded multipart file.
	File = internal.File

	// MiddlewareFunc is a named middleware step.
	MiddlewareFunc = internal.MiddlewareFunc

	// NextFunc continues the middleware chain. A non-nil error aborts it
	// with a 500.
	NextFunc = internal.NextFunc

	// Flow is what a middleware tells the chain to do.
	Flow = internal.Flow

	// Module installs routes and middleware as one removable unit.
	Module = internal.Module

	// AuthorizeFunc decides authorization and resolves the user.
	AuthorizeFunc = internal.AuthorizeFunc

	// UserAuthorizeFunc resolves the user; a nil user is unauthorized.
	UserAuthorizeFunc = internal.UserAuthorizeFunc

	// RoleGranter collects the roles of the authorized user.
	RoleGranter = internal.RoleGranter

	// SchemaValidator validates request bodies against named schemas.
	SchemaValidator = internal.SchemaValidator

	// HTTPError is an error carrying an HTTP status.
	HTTPError = internal.HTTPError

	// ErrorEntry is one recorded server error.
	ErrorEntry = internal.ErrorEntry

	// Extractor reads a value from the first source that has it.
	Extractor = internal.Extractor

	// ExtractorSource reads one candidate value from a request.
	ExtractorSource = internal.ExtractorSource

	// SitemapItem is one named page.
	SitemapItem = internal.SitemapItem

	// Option configures the application.
	Option = internal.Option

	// RunOption configures the server runtime.
	RunOption = internal.RunOption

	// Config is the framework configuration.
	Config = config.Config

	// ContextExtractor extracts a slog attribute from context.
	// Used with logger.WithExtractors to add request values to logs.
	ContextExtractor = logger.ContextExtractor
)

// Middleware flow.
const (
	Await   = internal.Await
	Proceed = internal.Proceed
	Halt    = internal.Halt
)

// Route flags with a fixed meaning.
const (
	FlagJSON        = internal.FlagJSON
	FlagXML         = internal.FlagXML
	FlagRaw         = internal.FlagRaw
	FlagUpload      = internal.FlagUpload
	FlagAuthorize   = internal.FlagAuthorize
	FlagUnauthorize = internal.FlagUnauthorize
	FlagCORS        = internal.FlagCORS
	FlagCredentials = internal.FlagCredentials
)

// Sentinel errors.
var (
	ErrInvalidRoute  = internal.ErrInvalidRoute
	ErrAddressInUse  = internal.ErrAddressInUse
	ErrTimeout       = internal.ErrTimeout
	ErrCanceled      = internal.ErrCanceled
	ErrUnknownModule = internal.ErrUnknownModule
)

// Constructors

// New creates an application with the given options.
//
// Example:
//
//	app := trellis.New(
//	    trellis.WithConfigFile("trellis.yaml"),
//	    trellis.WithHandlers(handlers.NewUsers(repo)),
//	)
//
//	err := app.Run(trellis.Address(":8080"))
func New(opts ...Option) *App {
	return internal.New(opts...)
}

// Run starts a multi-domain HTTP server and blocks until shutdown.
//
// Example:
//
//	err := trellis.Run(
//	    trellis.Domain("api.acme.com", api),
//	    trellis.Domain("*.acme.com", website),
//	    trellis.Address(":8080"),
//	)
func Run(opts ...RunOption) error {
	return internal.Run(opts...)
}

// NewRoute parses a route without registering it.
func NewRoute(pattern string, action HandlerFunc, flags []string, maxBody int64, opts ...RouteOption) (*Route, error) {
	return internal.NewRoute(pattern, action, flags, maxBody, opts...)
}

// App options

// WithConfig replaces the configuration.
func WithConfig(cfg Config) Option { return internal.WithConfig(cfg) }

// WithConfigFile loads the configuration from a YAML file with TRELLIS_
// environment overrides. Reconfigure messages reload the same file.
func WithConfigFile(path string) Option { return internal.WithConfigFile(path) }

// WithDebug toggles debug mode.
func WithDebug(on bool) Option { return internal.WithDebug(on) }

// WithLogger sets the application logger.
//
// Example:
//
//	log := logger.New(logger.WithExtractors(middlewares.RequestIDExtractor()))
//	trellis.New(trellis.WithLogger(log))
func WithLogger(l *slog.Logger) Option { return internal.WithLogger(l) }

// WithAuthorize sets the authorization delegate.
func WithAuthorize(fn AuthorizeFunc) Option { return internal.WithAuthorize(fn) }

// WithUserAuthorize sets a delegate that only resolves the user.
func WithUserAuthorize(fn UserAuthorizeFunc) Option { return internal.WithUserAuthorize(fn) }

// WithSchemas sets the validator for "*Schema" route flags.
func WithSchemas(v SchemaValidator) Option { return internal.WithSchemas(v) }

// WithViews sets the view renderer used by Controller.View.
func WithViews(r view.Renderer) Option { return internal.WithViews(r) }

// WithCache replaces the in-memory cache store.
func WithCache(store cache.Store[[]byte]) Option { return internal.WithCache(store) }

// WithBus sets the cluster bus for process messages.
func WithBus(bus cluster.Bus) Option { return internal.WithBus(bus) }

// WithStats sets the metrics collector.
func WithStats(s *metrics.Stats) Option { return internal.WithStats(s) }

// WithHealthCheck adds a readiness check.
func WithHealthCheck(name string, fn health.CheckFunc) Option {
	return internal.WithHealthCheck(name, fn)
}

// WithMiddleware registers a named middleware.
func WithMiddleware(name string, fn MiddlewareFunc) Option {
	return internal.WithMiddleware(name, fn)
}

// WithGlobalMiddleware runs the named middleware before every route.
func WithGlobalMiddleware(names ...string) Option { return internal.WithGlobalMiddleware(names...) }

// WithHandlers registers handlers that declare routes.
func WithHandlers(h ...Handler) Option { return internal.WithHandlers(h...) }

// WithModules installs modules at the end of New.
func WithModules(mods ...Module) Option { return internal.WithModules(mods...) }

// Route options

// WithTimeout overrides the route timeout.
func WithTimeout(d time.Duration) RouteOption { return internal.WithTimeout(d) }

// WithRouteOptions attaches options passed to every middleware of the route.
func WithRouteOptions(opts map[string]any) RouteOption { return internal.WithRouteOptions(opts) }

// Run options

// Address sets the listen address. Defaults to ":8000".
func Address(addr string) RunOption { return internal.Address(addr) }

// Logger sets the server logger.
func Logger(l *slog.Logger) RunOption { return internal.Logger(l) }

// ShutdownTimeout bounds graceful shutdown.
func ShutdownTimeout(d time.Duration) RunOption { return internal.ShutdownTimeout(d) }

// IdleTimeout closes keep-alive connections idle for d.
func IdleTimeout(d time.Duration) RunOption { return internal.IdleTimeout(d) }

// MaxHeaderBytes caps request header size.
func MaxHeaderBytes(n int) RunOption { return internal.MaxHeaderBytes(n) }

// StartupHook runs after the apps subscribed to the bus and before the
// listener opens.
func StartupHook(fn func(context.Context) error) RunOption { return internal.StartupHook(fn) }

// ShutdownHook runs after the server and the apps stopped.
func ShutdownHook(fn func(context.Context) error) RunOption { return internal.ShutdownHook(fn) }

// Domain serves app for a host pattern such as "api.acme.com" or "*.acme.com".
func Domain(pattern string, app *App) RunOption { return internal.Domain(pattern, app) }

// Fallback serves app for hosts no domain matched.
func Fallback(app *App) RunOption { return internal.Fallback(app) }

// WithContext sets the base context of the server.
func WithContext(ctx context.Context) RunOption { return internal.WithContext(ctx) }

// Errors

// NewHTTPError creates an error with an HTTP status.
func NewHTTPError(code int, message string) *HTTPError { return internal.NewHTTPError(code, message) }

// IsHTTPError reports whether err wraps an HTTPError.
func IsHTTPError(err error) bool { return internal.IsHTTPError(err) }

// AsHTTPError returns the wrapped HTTPError, or nil.
func AsHTTPError(err error) *HTTPError { return internal.AsHTTPError(err) }

// Helpers

// Param returns a route parameter converted to T. Conversion failures give
// the zero value.
func Param[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Controller, name string) T {
	return internal.Param[T](c, name)
}

// Query returns a query parameter converted to T.
func Query[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Controller, name string) T {
	return internal.Query[T](c, name)
}

// QueryDefault returns a query parameter converted to T, or defaultValue.
func QueryDefault[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Controller, name string, defaultValue T) T {
	return internal.QueryDefault(c, name, defaultValue)
}

// Extractors

// NewExtractor tries sources in order.
func NewExtractor(sources ...ExtractorSource) Extractor { return internal.NewExtractor(sources...) }

func FromHeader(name string) ExtractorSource { return internal.FromHeader(name) }
func FromQuery(name string) ExtractorSource  { return internal.FromQuery(name) }
func FromCookie(name string) ExtractorSource { return internal.FromCookie(name) }
func FromBearerToken() ExtractorSource       { return internal.FromBearerToken() }
func FromBasicUser() ExtractorSource         { return internal.FromBasicUser() }
