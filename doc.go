// Package trellis is a small web application framework built around a
// flag driven route table and an explicit request lifecycle.
//
// # Quick Start
//
// Create an application with trellis.New(), declare routes and call Run():
//
//	app := trellis.New(
//	    trellis.WithConfigFile("trellis.yaml"),
//	    trellis.WithLogger(logger.New()),
//	)
//
//	app.GET("/", func(c *trellis.Controller) error {
//	    return c.HTML("<h1>Hello</h1>")
//	})
//	app.Route("/api/users", createUser, "json", "*Users/Create")
//
//	if err := app.Run(trellis.Address(":8080")); err != nil {
//	    log.Fatal(err)
//	}
//
// # Handlers
//
// Handlers implement the [Handler] interface to declare routes:
//
//	type Users struct{ repo *Repo }
//
//	func (h *Users) Routes(r trellis.Router) {
//	    r.GET("/users/{id}", h.show)
//	    r.Group("/admin", func(r trellis.Router) {
//	        r.GET("/users", h.list)
//	    }, "authorize", "@admin")
//	}
//
// # Flags
//
// Route flags pick methods ("get", "post", "json" implies POST), request
// qualifiers ("xhr", "mobile", "robot", "https"), authorization
// ("authorize", "unauthorize", "@role"), middleware ("#name"), a body
// schema ("*Schema/Operation"), CORS origins ("https://a.example.com",
// "cors", "credentials") and for WebSocket routes the subprotocols.
//
// # System Routes
//
// Patterns "#400", "#401", "#403", "#404", "#408", "#431", "#500" and
// "#501" register the handlers for those statuses. Without one the plain
// "<code>: <text>" body is sent.
//
// # Multi-Domain
//
// Several apps can share one server, selected by host:
//
//	err := trellis.Run(
//	    trellis.Domain("api.acme.com", api),
//	    trellis.Fallback(site),
//	)
package trellis
