package internal

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/ndtt/trellis/pkg/websocket"
)

// endpoint binds a WebSocket route to its container. The container is
// created on the first upgrade and again after it was destroyed.
type endpoint struct {
	route     *Route
	setup     func(*websocket.Container)
	container *websocket.Container
	mu        sync.Mutex
}

func (a *App) websocket(pattern string, setup func(*websocket.Container), flags []string, opts ...RouteOption) *Route {
	r, err := NewRoute(a.sockets.resolve(pattern), nil, flags, 0, a.ownedOpts(opts)...)
	if err != nil {
		panic(err)
	}
	if r.IsSystem {
		panic(errors.Join(ErrInvalidRoute, errors.New("websocket routes cannot be system routes")))
	}
	r.Methods = []string{http.MethodGet}
	if err := a.sockets.Add(r); err != nil {
		panic(err)
	}

	a.mu.Lock()
	a.endpoints[r] = &endpoint{route: r, setup: setup}
	a.mu.Unlock()
	return r
}

func (e *endpoint) get(a *App) *websocket.Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.container != nil && !e.container.Destroyed() {
		return e.container
	}

	cfg := a.Config()
	r := e.route
	typ := websocket.TypeText
	switch {
	case r.Has(FlagJSON):
		typ = websocket.TypeJSON
	case r.Has(FlagBinary), r.Has(FlagRaw):
		typ = websocket.TypeBinary
	}

	c := websocket.NewContainer(r.URL,
		websocket.WithMaxLength(int(r.MaxBody)),
		websocket.WithType(typ),
		websocket.WithEncodeDecode(cfg.WebSocketEncodeDecode),
		websocket.WithDebug(cfg.Debug),
		websocket.WithPolicy(websocket.Policy{Origins: r.Origins, Protocols: protocolsOf(r)}),
		websocket.WithLogger(a.logger),
		websocket.WithObserver(a.stats),
	)
	if e.setup != nil {
		e.setup(c)
	}
	e.container = c
	return c
}

// upgrade matches a WebSocket route and hands the connection to its
// container. Handshake failures are answered by the container.
func (a *App) upgrade(req *Request, res *Response, out *output) {
	member := MemberAny
	var user any
	if a.authorize != nil {
		authorized, u := a.authorize(req)
		member, user = MemberUnauthorized, u
		if authorized {
			member = MemberAuthorized
		}
	}

	route, _ := a.sockets.Match(req, member)
	if route == nil {
		_, _ = out.builtin(http.StatusNotFound, "")
		return
	}

	a.mu.RLock()
	ep := a.endpoints[route]
	a.mu.RUnlock()
	if ep == nil {
		_, _ = out.builtin(http.StatusNotFound, "")
		return
	}

	c := ep.get(a)
	_, err := c.Accept(hijackWriter{res}, req.Request, user)
	if errors.Is(err, websocket.ErrDestroyed) {
		// destroyed between get and Accept
		_, err = ep.get(a).Accept(hijackWriter{res}, req.Request, user)
	}
	if err != nil {
		a.logger.Debug("websocket rejected", "url", req.URL.Path, "error", err)
		if !res.Written() {
			_, _ = out.builtin(http.StatusNotImplemented, err.Error())
		}
	}
}

// Sockets returns the live WebSocket containers.
func (a *App) Sockets() []*websocket.Container {
	a.mu.RLock()
	eps := make([]*endpoint, 0, len(a.endpoints))
	for _, ep := range a.endpoints {
		eps = append(eps, ep)
	}
	a.mu.RUnlock()

	var out []*websocket.Container
	for _, ep := range eps {
		ep.mu.Lock()
		if ep.container != nil && !ep.container.Destroyed() {
			out = append(out, ep.container)
		}
		ep.mu.Unlock()
	}
	return out
}

func (a *App) destroySockets() {
	for _, c := range a.Sockets() {
		c.Destroy()
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && websocket.IsUpgrade(r)
}

var wsKnownFlags = map[string]bool{
	FlagJSON: true, FlagXML: true, FlagRaw: true, FlagBinary: true, FlagUpload: true,
	FlagAuthorize: true, FlagUnauthorize: true, FlagMobile: true, FlagRobot: true,
	FlagXHR: true, FlagNoXHR: true, FlagReferer: true, FlagHTTPS: true, FlagHTTP: true,
	FlagDebug: true, FlagRelease: true, FlagCORS: true, FlagDelay: true, FlagProxy: true,
}

// protocolsOf returns the flags of r that name subprotocols.
func protocolsOf(r *Route) []string {
	var out []string
	for _, f := range r.Flags() {
		if wsKnownFlags[f] || verbs[f] != "" || strings.HasPrefix(f, "@") || strings.HasPrefix(f, "role:") {
			continue
		}
		out = append(out, f)
	}
	return out
}
