package internal

import (
	"errors"
	"net/http"

	"github.com/ndtt/trellis/pkg/hostrouter"
)

// Run serves one or more apps and blocks until shutdown. Apps are mapped to
// host patterns with Domain; Fallback serves every other host. Each app's
// scheduler starts with the server and its bus can stop the server.
//
// Example:
//
//	api := trellis.New(trellis.WithConfigFile("api.yaml"))
//	site := trellis.New(trellis.WithConfigFile("site.yaml"))
//
//	err := trellis.Run(
//	    trellis.Domain("api.acme.com", api),
//	    trellis.Fallback(site),
//	    trellis.Address(":8080"),
//	)
func Run(opts ...RunOption) error {
	cfg := newRuntimeConfig(opts...)

	var (
		handler http.Handler
		apps    []*App
		seen    = make(map[*App]bool)
	)
	collect := func(app *App) {
		if !seen[app] {
			seen[app] = true
			apps = append(apps, app)
		}
	}

	switch {
	case len(cfg.domains) > 0:
		routes := make(map[string]http.Handler, len(cfg.domains))
		for pattern, app := range cfg.domains {
			routes[pattern] = app.Handler()
			collect(app)
		}
		var fallback http.Handler = http.NotFoundHandler()
		if cfg.fallback != nil {
			fallback = cfg.fallback.Handler()
			collect(cfg.fallback)
		}
		handler = hostrouter.New(routes, fallback)
	case cfg.fallback != nil:
		handler = cfg.fallback.Handler()
		collect(cfg.fallback)
	default:
		return errors.New("trellis.Run: no domains or fallback configured")
	}

	cfg.handler, cfg.apps = handler, apps
	return runServer(cfg)
}

// Run serves the app alone on its configured address.
func (a *App) Run(opts ...RunOption) error {
	cfg := a.Config()
	base := []RunOption{
		Fallback(a),
		Address(cfg.Address),
		Logger(a.logger),
		ShutdownTimeout(cfg.ShutdownTimeout),
	}
	return Run(append(base, opts...)...)
}
