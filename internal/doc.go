// Package internal is the trellis engine: route table, request lifecycle,
// middleware chain, WebSocket endpoints and response dispatch.
//
// This package is internal and should not be used directly. Import
// "github.com/ndtt/trellis" instead, which re-exports the public API.
//
// # Core Types
//
//   - App: owns the route tables, the middleware registry, caches, the
//     scheduler and the cluster bus, and serves HTTP.
//   - Route: a parsed pattern with flags, priority, body limit and timeout.
//   - RouteTable: the sorted route list and the matcher.
//   - Controller: the per request handle passed to actions. It is a
//     context.Context canceled when the request ends or times out.
//   - Request and Response: the inbound request with its derived fields
//     and the guarded writer that allows exactly one terminal response.
//   - MiddlewareFunc: a named step that can proceed, halt or answer later.
//
// # Routes and Flags
//
// Routes are declared with a pattern and string flags. Flags select the
// methods ("get", "post", "json"), qualifiers ("xhr", "mobile", "https"),
// authorization ("authorize", "@admin"), middleware ("#auth"), a schema
// ("*Users/Create") and CORS origins:
//
//	app.Route("/api/users", h.create, "json", "*Users/Create", "#auth")
//	app.GET("/users/{id}", h.show)
//	app.Route("#404", h.notFound)
//
// A request is matched against routes in priority order. When no route
// fits, the "#404" system route answers, or a plain "404: Not Found".
//
// # Request Lifecycle
//
// For each request the engine reads and parses the body, authorizes,
// validates against the route schema, runs the middleware chain and the
// action, and waits until a response was written, the route timeout fired
// or the client went away:
//
//	func (h *Users) create(c *trellis.Controller) error {
//	    var in CreateUser
//	    if err := c.Bind(&in); err != nil {
//	        return c.Throw400(err)
//	    }
//	    return c.JSON(in)
//	}
//
// Actions may respond from another goroutine; returning nil without a
// response leaves the request pending until the timeout answers 408.
//
// # Middleware
//
// Middleware is registered by name and attached to routes with "#name"
// flags or globally with Use:
//
//	app.Middleware("auth", func(req *trellis.Request, res *trellis.Response, next trellis.NextFunc, opts map[string]any, c *trellis.Controller) trellis.Flow {
//	    if req.Header.Get("X-Token") == "" {
//	        _ = c.Throw401(nil)
//	        return trellis.Halt
//	    }
//	    return trellis.Proceed
//	})
//
// # Process Messages
//
// Apps subscribe to a cluster bus and react to reset, reconfigure,
// debugging and stop messages published by any process:
//
//	_ = app.Broadcast(ctx, cluster.Reset, nil)
package internal
