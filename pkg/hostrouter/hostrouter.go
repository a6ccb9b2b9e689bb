// Package hostrouter dispatches requests on the Host header and extracts
// subdomains for route selectors.
package hostrouter

import (
	"net"
	"net/http"
	"strings"
)

// Router maps host patterns to handlers. Patterns are exact
// ("api.example.com") or a single leading wildcard ("*.example.com").
type Router struct {
	exact    map[string]http.Handler
	wildcard map[string]http.Handler
	fallback http.Handler
}

// New creates a Router. A nil fallback answers unmatched hosts with 404.
func New(routes map[string]http.Handler, fallback http.Handler) *Router {
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	r := &Router{
		exact:    make(map[string]http.Handler, len(routes)),
		wildcard: make(map[string]http.Handler),
		fallback: fallback,
	}
	for pattern, h := range routes {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
		case strings.HasPrefix(pattern, "*."):
			r.wildcard[pattern[2:]] = h
		default:
			r.exact[pattern] = h
		}
	}
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	host := Normalize(req.Host)
	if h, ok := r.exact[host]; ok {
		h.ServeHTTP(w, req)
		return
	}
	if _, parent, ok := strings.Cut(host, "."); ok {
		if h, ok := r.wildcard[parent]; ok {
			h.ServeHTTP(w, req)
			return
		}
	}
	r.fallback.ServeHTTP(w, req)
}

// Normalize lowercases a host and strips its port.
//
//	"Example.COM:8080" -> "example.com"
//	"[::1]:8080"       -> "[::1]"
func Normalize(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		if strings.Contains(h, ":") {
			h = "[" + h + "]"
		}
		host = h
	}
	return strings.ToLower(host)
}

// Subdomain returns the labels in front of the registrable domain.
// With a base domain it is everything before ".base"; without one the last
// two labels are treated as the domain. IP addresses and single label hosts
// have no subdomain.
//
//	Subdomain("api.eu.example.com", "")            -> "api.eu"
//	Subdomain("api.eu.example.com", "eu.example.com") -> "api"
//	Subdomain("localhost:8000", "")                -> ""
func Subdomain(host, base string) string {
	host = Normalize(host)
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return ""
	}
	if base != "" {
		base = strings.ToLower(base)
		if host == base || !strings.HasSuffix(host, "."+base) {
			return ""
		}
		return strings.TrimSuffix(host, "."+base)
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return ""
	}
	return strings.Join(labels[:len(labels)-2], ".")
}
