package internal

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/ndtt/trellis/pkg/cache"
	"github.com/ndtt/trellis/pkg/cluster"
	"github.com/ndtt/trellis/pkg/config"
	"github.com/ndtt/trellis/pkg/health"
	"github.com/ndtt/trellis/pkg/id"
	"github.com/ndtt/trellis/pkg/logger"
	"github.com/ndtt/trellis/pkg/metrics"
	"github.com/ndtt/trellis/pkg/scheduler"
	"github.com/ndtt/trellis/pkg/view"
)

// Default server timeouts (hardcoded, opinionated).
const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxHeaderBytes    = 1 << 20 // 1MB
	defaultShutdownTimeout   = 30 * time.Second
)

// Default paths of the outer mux.
const (
	defaultLivenessPath  = "/health/live"
	defaultReadinessPath = "/health/ready"
)

// App holds everything one application serves: route tables, middleware,
// WebSocket containers, modules and the shared services.
type App struct {
	cfg              config.Config
	logger           *slog.Logger
	routes           *RouteTable
	sockets          *RouteTable
	endpoints        map[*Route]*endpoint
	fileRoutes       []*fileRoute
	middleware       *middlewares
	globalMiddleware []string
	authorize        authorizer
	schemas          SchemaValidator
	views            view.Renderer
	stats            *metrics.Stats
	cache            cache.Store[[]byte]
	scheduler        *scheduler.Scheduler
	health           *health.Checker
	bus              cluster.Bus
	gate             *semaphore.Weighted
	public           *os.Root
	sitemap          *Sitemap
	modules          map[string]Module
	pending          []Module
	handlers         []Handler
	use              []string
	preflights       map[string]bool
	corsPolicies     map[string]*Route
	installing       string
	handler          http.Handler
	configPath       string
	origin           string
	errors           errorRing
	handlerOnce      sync.Once
	installMu        sync.Mutex
	paused           atomic.Bool
	mu               sync.RWMutex
}

// New creates an application with the given options. Modules passed with
// WithModules are installed last; an install error panics like any other
// registration error.
//
//	app := trellis.New(
//	    trellis.WithConfig(cfg),
//	    trellis.WithLogger(log),
//	)
//	app.GET("/", home)
func New(opts ...Option) *App {
	a := &App{
		cfg:        config.Default(),
		logger:     logger.NewNope(),
		middleware: newMiddlewares(),
		endpoints:  make(map[*Route]*endpoint),
		modules:    make(map[string]Module),
		origin:     id.Token(8),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.routes = NewRouteTable(a.cfg.RequestTimeout, a.cfg.RequestLength())
	a.sockets = NewRouteTable(0, int64(a.cfg.WebSocketMaxLength()))
	a.sitemap = newSitemap()
	a.routes.SetSitemap(a.sitemap.resolve)
	a.sockets.SetSitemap(a.sitemap.resolve)
	if a.schemas != nil {
		a.routes.SetSchemaChecker(a.schemas)
	}

	if a.stats == nil {
		a.stats = metrics.New("trellis")
	}
	if a.cache == nil {
		a.cache = a.memoryCache()
	}
	if a.bus == nil {
		a.bus = cluster.NewLocal()
	}
	a.scheduler = scheduler.New(a.logger)
	if a.health == nil {
		a.health = health.New(a.logger, 0)
	}
	if n := a.cfg.MaxConcurrentRequests; n > 0 {
		a.gate = semaphore.NewWeighted(n)
	}
	if dir := a.cfg.PublicDir; dir != "" {
		root, err := os.OpenRoot(dir)
		if err != nil {
			a.logger.Warn("public directory unavailable", "dir", dir, "error", err)
		} else {
			a.public = root
		}
	}

	a.registerJobs()

	a.Use(a.use...)
	a.Register(a.handlers...)
	a.handlers, a.use = nil, nil

	for _, m := range a.pending {
		if err := a.Install(m); err != nil {
			panic(err)
		}
	}
	a.pending = nil
	return a
}

func (a *App) memoryCache() cache.Store[[]byte] {
	m := cache.NewMemory[[]byte](cache.WithSweepInterval(0))
	if path := a.cfg.CacheSnapshot; path != "" {
		if f, err := os.Open(path); err == nil {
			if err := m.Load(f); err != nil {
				a.logger.Warn("cache snapshot not loaded", "path", path, "error", err)
			}
			f.Close()
		}
	}
	return m
}

// Config returns the active configuration.
func (a *App) Config() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *App) Logger() *slog.Logger             { return a.logger }
func (a *App) Routes() *RouteTable              { return a.routes }
func (a *App) Stats() *metrics.Stats            { return a.stats }
func (a *App) Cache() cache.Store[[]byte]       { return a.cache }
func (a *App) Scheduler() *scheduler.Scheduler  { return a.scheduler }
func (a *App) Bus() cluster.Bus                 { return a.bus }
func (a *App) Health() *health.Checker          { return a.health }
func (a *App) Views() view.Renderer             { return a.views }
func (a *App) Sitemap() *Sitemap                { return a.sitemap }
func (a *App) Errors() []ErrorEntry             { return a.errors.list() }
func (a *App) Paused() bool                     { return a.paused.Load() }
func (a *App) Debug() bool                      { return a.Config().Debug }
func (a *App) SchemaValidator() SchemaValidator { return a.schemas }

// Pause makes the app answer 503 until Resume.
func (a *App) Pause()  { a.paused.Store(true) }
func (a *App) Resume() { a.paused.Store(false) }

// recordError logs a server error and keeps it in the error ring.
func (a *App) recordError(ctx context.Context, err error, name, url string) {
	a.stats.Error()
	a.errors.push(ErrorEntry{Date: time.Now(), Error: err.Error(), Name: name, URL: url})
	a.logger.ErrorContext(ctx, "server error", "error", err, "name", name, "url", url)
}

// Handler returns the outer mux: health probes, the metrics endpoint and the
// engine for everything else.
func (a *App) Handler() http.Handler {
	a.handlerOnce.Do(func() {
		r := chi.NewRouter()
		r.Get(defaultLivenessPath, a.health.Live)
		r.Get(defaultReadinessPath, a.health.Ready)
		if path := a.cfg.MetricsPath; path != "" {
			r.Handle(path, a.stats.Handler())
		}
		r.NotFound(a.ServeHTTP)
		r.MethodNotAllowed(a.ServeHTTP)
		r.Handle("/*", a)
		a.handler = r
	})
	return a.handler
}

// ServeHTTP runs one request through the engine. It returns once the
// response was written or the client went away, so actions may respond from
// other goroutines.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := newResponse(w)
	cfg := a.Config()
	req := newRequest(r, cfg.Domain, cfg.Debug)
	out := &output{req: req, res: res, observe: a.stats.Response, allowGzip: cfg.AllowGzip, debug: cfg.Debug}

	if a.paused.Load() || (a.gate != nil && !a.gate.TryAcquire(1)) {
		_, _ = out.builtin(http.StatusServiceUnavailable, "")
		return
	}
	if a.gate != nil {
		defer a.gate.Release(1)
	}
	defer a.stats.Begin()()

	if r.Host == "" {
		_, _ = out.builtin(http.StatusBadRequest, "")
		return
	}

	a.stats.Request(requestKind(req))

	if cfg.AllowWebSocket && isWebSocketUpgrade(r) {
		a.upgrade(req, res, out)
		return
	}

	s := newSubscribe(a, req, res, out)
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if route, params := a.matchFile(req); route != nil {
			go s.runFile(route, params)
			a.await(s)
			return
		}
		if a.serveStatic(req, out) {
			return
		}
	}

	go s.run()
	a.await(s)
}

// await blocks until s responded or its client went away.
func (a *App) await(s *subscribe) {
	select {
	case <-s.res.Done():
	case <-s.req.Context().Done():
		if s.res.detach() {
			<-s.res.Done()
		} else {
			s.detach()
		}
	}
	<-s.bodyRead
	s.cleanup()
}

func requestKind(r *Request) string {
	switch {
	case isWebSocketUpgrade(r.Request):
		return "websocket"
	case r.IsXHR():
		return "xhr"
	case r.IsMultipart():
		return "upload"
	}
	return "http"
}

// Close stops background work and releases the app's resources.
func (a *App) Close(ctx context.Context) error {
	a.destroySockets()
	err := a.scheduler.Stop(ctx)
	if path := a.cfg.CacheSnapshot; path != "" {
		if serr := a.saveCache(path); serr != nil {
			a.logger.Warn("cache snapshot not saved", "path", path, "error", serr)
		}
	}
	if cerr := a.cache.Close(); err == nil {
		err = cerr
	}
	if cerr := a.bus.Close(); err == nil {
		err = cerr
	}
	if a.public != nil {
		_ = a.public.Close()
	}
	return err
}
