package internal

import (
	"errors"
	"io/fs"
	"path"
	"slices"
	"strings"
)

// fileRoute is a route for requests that look like static files.
type fileRoute struct {
	route      *Route
	extensions []string
}

func (a *App) file(pattern string, h HandlerFunc, extensions []string, opts ...RouteOption) *Route {
	r, err := NewRoute(pattern, h, nil, 0, a.ownedOpts(opts)...)
	if err != nil {
		panic(err)
	}
	if r.IsSystem {
		panic(errors.Join(ErrInvalidRoute, errors.New("file routes cannot be system routes")))
	}
	if r.Timeout < 0 {
		r.Timeout = a.cfg.RequestTimeout
	}
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		exts = append(exts, strings.TrimPrefix(strings.ToLower(e), "."))
	}

	a.mu.Lock()
	a.fileRoutes = append(a.fileRoutes, &fileRoute{route: r, extensions: exts})
	a.mu.Unlock()
	return r
}

// matchFile returns the file route for a request with an extension.
func (a *App) matchFile(req *Request) (*Route, []string) {
	ext := req.Extension()
	if ext == "" {
		return nil, nil
	}

	a.mu.RLock()
	routes := a.fileRoutes
	a.mu.RUnlock()

	if len(routes) == 0 {
		return nil, nil
	}
	lower, orig := a.routes.split(req.URL.Path)
	sub := req.Subdomain()
	for _, fr := range routes {
		if len(fr.extensions) > 0 && !slices.Contains(fr.extensions, ext) {
			continue
		}
		if !fr.route.matchSubdomain(sub) {
			continue
		}
		if params, ok := fr.route.matchPath(lower, orig); ok {
			return fr.route, params
		}
	}
	return nil, nil
}

// runFile executes a file route without body, auth or schema stages.
func (s *subscribe) runFile(route *Route, params []string) {
	defer s.finishBody()
	defer func() {
		if r := recover(); r != nil {
			s.panicked(r)
		}
	}()
	s.finishBody()
	s.route, s.params = route, params
	s.execute(route, params, 0, false, nil)
}

// serveStatic writes a file from the public directory. It reports false when
// there is no such file so that routing continues.
func (a *App) serveStatic(req *Request, out *output) bool {
	if a.public == nil || req.Extension() == "" {
		return false
	}
	name := strings.TrimPrefix(path.Clean("/"+req.URL.Path), "/")
	if name == "" {
		return false
	}

	f, err := a.public.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("static file", "path", name, "error", err)
		}
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	if _, err := out.file(f, info.Size(), name, info.ModTime(), ""); err != nil {
		a.logger.Debug("static file write", "path", name, "error", err)
	}
	return true
}
