package internal

import (
	"strings"

	"github.com/ndtt/trellis/pkg/websocket"
)

// Handler declares routes on a router.
//
// Example:
//
//	type UsersHandler struct {
//	    repo *repository.Queries
//	}
//
//	func (h *UsersHandler) Routes(r trellis.Router) {
//	    r.GET("/users/{id}", h.show)
//	    r.POST("/users", h.create, "json", "*Users/Create")
//	}
type Handler interface {
	Routes(r Router)
}

// Router is the interface handlers and modules use to declare routes.
type Router interface {
	// Route registers an action. Flags select methods and qualifiers;
	// without a verb the route answers GET.
	Route(pattern string, h HandlerFunc, flags ...string) *Route

	GET(pattern string, h HandlerFunc, flags ...string) *Route
	POST(pattern string, h HandlerFunc, flags ...string) *Route
	PUT(pattern string, h HandlerFunc, flags ...string) *Route
	PATCH(pattern string, h HandlerFunc, flags ...string) *Route
	DELETE(pattern string, h HandlerFunc, flags ...string) *Route

	// View registers a GET route rendering the named view without a model.
	View(pattern, name string, flags ...string) *Route

	// WebSocket registers an upgrade endpoint. setup runs once, when the
	// endpoint's container is created.
	WebSocket(pattern string, setup func(*websocket.Container), flags ...string) *Route

	// File registers an action for static-looking requests. An empty
	// extension list accepts any extension.
	File(pattern string, h HandlerFunc, extensions ...string) *Route

	// CORS sets the cross-origin policy of every route at pattern.
	CORS(pattern string, flags ...string) *Route

	// Group registers routes under a pattern prefix. flags are added to
	// every route of the group.
	Group(prefix string, fn func(r Router), flags ...string)
}

// group is a Router that prefixes patterns and flags.
type group struct {
	app    *App
	prefix string
	flags  []string
	opts   []RouteOption
}

func (g *group) pattern(p string) string {
	if g.prefix == "" || strings.HasPrefix(strings.TrimSpace(p), "#") {
		return p
	}
	return strings.TrimRight(g.prefix, "/") + "/" + strings.TrimLeft(p, "/")
}

func (g *group) withFlags(flags []string) []string {
	if len(g.flags) == 0 {
		return flags
	}
	return append(append(make([]string, 0, len(g.flags)+len(flags)), g.flags...), flags...)
}

func verb(flags []string, v string) []string {
	return append(flags[:len(flags):len(flags)], v)
}

func (g *group) Route(pattern string, h HandlerFunc, flags ...string) *Route {
	return g.app.Handle(g.pattern(pattern), h, g.withFlags(flags), 0, g.opts...)
}

// ownedOpts tags routes registered while a module installs.
func (a *App) ownedOpts(opts []RouteOption) []RouteOption {
	if name := a.owner(); name != "" {
		return append(opts[:len(opts):len(opts)], WithOwner(name))
	}
	return opts
}

func (g *group) GET(pattern string, h HandlerFunc, flags ...string) *Route {
	return g.Route(pattern, h, verb(flags, "get")...)
}

func (g *group) POST(pattern string, h HandlerFunc, flags ...string) *Route {
	return g.Route(pattern, h, verb(flags, "post")...)
}

func (g *group) PUT(pattern string, h HandlerFunc, flags ...string) *Route {
	return g.Route(pattern, h, verb(flags, "put")...)
}

func (g *group) PATCH(pattern string, h HandlerFunc, flags ...string) *Route {
	return g.Route(pattern, h, verb(flags, "patch")...)
}

func (g *group) DELETE(pattern string, h HandlerFunc, flags ...string) *Route {
	return g.Route(pattern, h, verb(flags, "delete")...)
}

func (g *group) View(pattern, name string, flags ...string) *Route {
	return g.GET(pattern, func(c *Controller) error { return c.View(name, nil) }, flags...)
}

func (g *group) WebSocket(pattern string, setup func(*websocket.Container), flags ...string) *Route {
	return g.app.websocket(g.pattern(pattern), setup, g.withFlags(flags), g.opts...)
}

func (g *group) File(pattern string, h HandlerFunc, extensions ...string) *Route {
	return g.app.file(g.pattern(pattern), h, extensions, g.opts...)
}

func (g *group) CORS(pattern string, flags ...string) *Route {
	return g.app.declareCORS(g.pattern(pattern), g.withFlags(flags), g.opts...)
}

func (g *group) Group(prefix string, fn func(r Router), flags ...string) {
	fn(&group{app: g.app, prefix: g.pattern(prefix), flags: g.withFlags(flags), opts: g.opts})
}

func (a *App) root() *group { return &group{app: a} }

// Handle is the full form of Route: maxBody overrides the default body
// limit in bytes when positive.
func (a *App) Handle(pattern string, h HandlerFunc, flags []string, maxBody int64, opts ...RouteOption) *Route {
	opts = a.ownedOpts(opts)
	r := a.routes.Register(pattern, h, flags, maxBody, opts...)
	if isCORS(r) {
		a.cors(r, opts...)
	}
	return r
}

func (a *App) Route(pattern string, h HandlerFunc, flags ...string) *Route {
	return a.root().Route(pattern, h, flags...)
}

func (a *App) GET(pattern string, h HandlerFunc, flags ...string) *Route {
	return a.root().GET(pattern, h, flags...)
}

func (a *App) POST(pattern string, h HandlerFunc, flags ...string) *Route {
	return a.root().POST(pattern, h, flags...)
}

func (a *App) PUT(pattern string, h HandlerFunc, flags ...string) *Route {
	return a.root().PUT(pattern, h, flags...)
}

func (a *App) PATCH(pattern string, h HandlerFunc, flags ...string) *Route {
	return a.root().PATCH(pattern, h, flags...)
}

func (a *App) DELETE(pattern string, h HandlerFunc, flags ...string) *Route {
	return a.root().DELETE(pattern, h, flags...)
}

func (a *App) View(pattern, name string, flags ...string) *Route {
	return a.root().View(pattern, name, flags...)
}

func (a *App) WebSocket(pattern string, setup func(*websocket.Container), flags ...string) *Route {
	return a.root().WebSocket(pattern, setup, flags...)
}

func (a *App) File(pattern string, h HandlerFunc, extensions ...string) *Route {
	return a.root().File(pattern, h, extensions...)
}

func (a *App) Group(prefix string, fn func(r Router), flags ...string) {
	a.root().Group(prefix, fn, flags...)
}

// Register calls Routes on every handler.
func (a *App) Register(handlers ...Handler) {
	for _, h := range handlers {
		h.Routes(a.root())
	}
}

// Middleware registers a named middleware for "#name" route flags.
func (a *App) Middleware(name string, fn MiddlewareFunc) {
	a.middleware.add(name, fn)
}

// Use runs the named middleware before the route middleware of every route.
func (a *App) Use(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range names {
		a.globalMiddleware = appendUnique(a.globalMiddleware, n)
	}
}

var _ Router = (*group)(nil)
