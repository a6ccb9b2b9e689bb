package internal

import (
	"net/http"
	"slices"
	"strings"
)

const defaultCORSMaxAge = "120"

// CORS declares the cross-origin policy of every route at pattern, also
// those registered without CORS flags. flags carry the allowed origins and
// "credentials"; without origins any origin is allowed.
//
//	app.CORS("/api/users", "https://app.example.com", "credentials")
func (a *App) CORS(pattern string, flags ...string) *Route {
	return a.root().CORS(pattern, flags...)
}

func (a *App) declareCORS(pattern string, flags []string, opts ...RouteOption) *Route {
	opts = a.ownedOpts(opts)
	r, err := NewRoute(a.routes.resolve(pattern), nil, verb(flags, FlagCORS), 0, opts...)
	if err != nil {
		panic(err)
	}
	a.mu.Lock()
	if a.corsPolicies == nil {
		a.corsPolicies = make(map[string]*Route)
	}
	a.corsPolicies[corsKey(r)] = r
	a.mu.Unlock()

	a.cors(r, opts...)
	return r
}

// cors registers the preflight route for r once per URL.
func (a *App) cors(r *Route, opts ...RouteOption) {
	key := corsKey(r)

	a.mu.Lock()
	if a.preflights == nil {
		a.preflights = make(map[string]bool)
	}
	if a.preflights[key] {
		a.mu.Unlock()
		return
	}
	a.preflights[key] = true
	a.mu.Unlock()

	flags := append([]string{"options"}, r.Origins...)
	if r.Credentials {
		flags = append(flags, FlagCredentials)
	}
	a.routes.Register(r.Pattern, a.preflight(r), flags, 0, opts...)
}

func corsKey(r *Route) string {
	return strings.Join(r.Subdomains, ",") + "|" + r.URL
}

func (a *App) corsPolicy(r *Route) *Route {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.corsPolicies[corsKey(r)]
}

func isCORS(r *Route) bool { return r.Has(FlagCORS) || len(r.Origins) > 0 }

// preflight answers OPTIONS for every cors route sharing target's URL.
func (a *App) preflight(target *Route) HandlerFunc {
	key := corsKey(target)
	return func(c *Controller) error {
		req := c.Request()
		policy := a.corsPolicy(target)
		explicit := policy != nil
		if !explicit {
			policy = target
		}
		var methods []string
		for _, r := range a.routes.Routes() {
			if corsKey(r) == key && !r.Has("options") && (explicit || isCORS(r)) {
				for _, m := range r.Methods {
					methods = appendUnique(methods, m)
				}
			}
		}

		origin := req.Header.Get("Origin")
		if !originAllowed(policy.Origins, origin) {
			c.SetStatus(http.StatusForbidden)
			return c.Empty()
		}

		h := c.Header()
		setCORSHeaders(h, policy, origin)
		slices.Sort(methods)
		h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
		if hdrs := req.Header.Get("Access-Control-Request-Headers"); hdrs != "" {
			h.Set("Access-Control-Allow-Headers", hdrs)
		}
		h.Set("Access-Control-Max-Age", defaultCORSMaxAge)
		c.SetStatus(http.StatusOK)
		return c.Empty()
	}
}

// decorateCORS adds CORS headers to the response of a cors route or of a
// route covered by an App.CORS policy.
func (a *App) decorateCORS(res *Response, req *Request, r *Route) {
	if r.Has("options") {
		return
	}
	if !isCORS(r) {
		if r = a.corsPolicy(r); r == nil {
			return
		}
	}
	origin := req.Header.Get("Origin")
	if origin == "" || !originAllowed(r.Origins, origin) {
		return
	}
	res.OnBeforeWrite(func(h http.Header) { setCORSHeaders(h, r, origin) })
}

func setCORSHeaders(h http.Header, r *Route, origin string) {
	if len(r.Origins) == 0 && !r.Credentials {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}
	if r.Credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

// originAllowed reports whether origin is in allowed. An empty list allows
// any origin.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	return slices.ContainsFunc(allowed, func(o string) bool {
		return strings.TrimRight(o, "/") == origin
	})
}
