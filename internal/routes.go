package internal

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ndtt/trellis/pkg/cache"
)

// SchemaChecker reports whether a schema is known. Registration of a route
// that names an unknown schema panics when the table has a checker.
type SchemaChecker interface {
	Has(group, name string) bool
}

// SitemapResolver maps a sitemap id to its URL pattern.
type SitemapResolver func(id string) (string, bool)

type snapshot struct {
	routes []*Route
	system map[int]*Route
}

// RouteTable holds routes sorted by priority. Lookups read an immutable
// snapshot; mutations take the lock and publish a new one.
type RouteTable struct {
	snap           atomic.Pointer[snapshot]
	paths          *cache.Memory[[]string]
	schemas        SchemaChecker
	sitemap        SitemapResolver
	routes         []*Route
	defaultTimeout time.Duration
	defaultMaxBody int64
	order          int
	mu             sync.Mutex
}

// NewRouteTable creates an empty table. defaultTimeout and defaultMaxBody
// apply to routes that do not set their own.
func NewRouteTable(defaultTimeout time.Duration, defaultMaxBody int64) *RouteTable {
	t := &RouteTable{
		defaultTimeout: defaultTimeout,
		defaultMaxBody: defaultMaxBody,
		paths:          cache.NewMemory[[]string](cache.WithSweepInterval(0), cache.WithDefaultTTL(-1)),
	}
	t.snap.Store(&snapshot{system: map[int]*Route{}})
	return t
}

// SetSchemaChecker enables schema checks at registration.
func (t *RouteTable) SetSchemaChecker(c SchemaChecker) {
	t.mu.Lock()
	t.schemas = c
	t.mu.Unlock()
}

// SetSitemap sets the resolver for "#id" patterns that are not statuses.
func (t *RouteTable) SetSitemap(fn SitemapResolver) {
	t.mu.Lock()
	t.sitemap = fn
	t.mu.Unlock()
}

// Register parses and adds a route, then re-sorts. Invalid patterns,
// unknown sitemap ids and unknown schemas panic.
func (t *RouteTable) Register(pattern string, action HandlerFunc, flags []string, maxBody int64, opts ...RouteOption) *Route {
	pattern = t.resolve(pattern)

	r, err := NewRoute(pattern, action, flags, maxBody, opts...)
	if err != nil {
		panic(err)
	}
	if err := t.Add(r); err != nil {
		panic(err)
	}
	return r
}

func (t *RouteTable) resolve(pattern string) string {
	p := strings.TrimSpace(pattern)
	if !strings.HasPrefix(p, "#") {
		return pattern
	}
	if isStatusPattern(p) {
		return p
	}
	t.mu.Lock()
	fn := t.sitemap
	t.mu.Unlock()
	if fn != nil {
		if url, ok := fn(p[1:]); ok {
			return url
		}
	}
	panic(fmt.Errorf("%w: sitemap item %q not found", ErrInvalidRoute, p[1:]))
}

func isStatusPattern(p string) bool {
	for _, code := range SystemStatuses {
		if p == fmt.Sprintf("#%d", code) {
			return true
		}
	}
	return false
}

// Add inserts a parsed route and re-sorts.
func (t *RouteTable) Add(r *Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Schema != nil && t.schemas != nil && !t.schemas.Has(r.Schema.Group, r.Schema.Name) {
		return fmt.Errorf("%w: schema %q not found", ErrInvalidRoute, r.Schema.String())
	}
	if r.MaxBody <= 0 {
		r.MaxBody = t.defaultMaxBody
	}
	if r.Timeout < 0 {
		r.Timeout = t.defaultTimeout
	}
	t.order++
	r.order = t.order
	t.routes = append(t.routes, r)
	t.sortLocked()
	return nil
}

// Remove uninstalls every route owned by owner and reports how many went.
func (t *RouteTable) Remove(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := len(t.routes)
	t.routes = slices.DeleteFunc(t.routes, func(r *Route) bool { return r.Owner == owner })
	if n := before - len(t.routes); n > 0 {
		t.sortLocked()
		return n
	}
	return 0
}

// Sort re-sorts the table and publishes a new snapshot.
func (t *RouteTable) Sort() {
	t.mu.Lock()
	t.sortLocked()
	t.mu.Unlock()
}

func (t *RouteTable) sortLocked() {
	slices.SortStableFunc(t.routes, func(a, b *Route) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		if a.FlagCount != b.FlagCount {
			return b.FlagCount - a.FlagCount
		}
		return a.order - b.order
	})

	mobile := make(map[string]bool)
	keys := make(map[string]int)
	for _, r := range t.routes {
		keys[r.URL]++
		if r.Has(FlagMobile) && varyCandidate(r) {
			mobile[r.URL] = true
		}
	}

	routes := make([]*Route, len(t.routes))
	system := make(map[int]*Route)
	for i, r := range t.routes {
		r.IsUnique = keys[r.URL] == 1
		r.IsMobileVary = !r.Has(FlagMobile) && varyCandidate(r) && mobile[r.URL]
		routes[i] = r
		if r.IsSystem {
			if _, ok := system[r.Status]; !ok {
				system[r.Status] = r
			}
		}
	}
	t.snap.Store(&snapshot{routes: routes, system: system})
	_ = t.paths.Clear(context.Background())
}

func varyCandidate(r *Route) bool {
	return !r.IsSystem && !r.Has(FlagUpload) && !r.Has(FlagXHR) && !r.Has(FlagJSON) && !r.Has(FlagXML) &&
		slices.Contains(r.Methods, "GET")
}

// Match returns the first route accepting req with membertype, and its
// positional parameters. It returns nil when nothing matches.
func (t *RouteTable) Match(req *Request, member int) (*Route, []string) {
	lower, orig := t.split(req.URL.Path)
	sub := req.Subdomain()
	method := req.Method

	for _, r := range t.snap.Load().routes {
		if !r.matchSubdomain(sub) || !r.allows(method) {
			continue
		}
		params, ok := r.matchPath(lower, orig)
		if !ok || !r.matchFlags(req, member) {
			continue
		}
		return r, params
	}
	return nil, nil
}

// Lookup returns the system route registered for status.
func (t *RouteTable) Lookup(status int) *Route {
	return t.snap.Load().system[status]
}

// Routes returns the sorted routes.
func (t *RouteTable) Routes() []*Route {
	return slices.Clone(t.snap.Load().routes)
}

// Len returns the number of routes.
func (t *RouteTable) Len() int { return len(t.snap.Load().routes) }

// split memoizes path segments until the next sort, up to maxCachedPaths.
func (t *RouteTable) split(path string) (lower, orig []string) {
	ctx := context.Background()
	if segs, err := t.paths.Get(ctx, path); err == nil {
		return segs[:len(segs)/2], segs[len(segs)/2:]
	}

	for raw := range strings.SplitSeq(path, "/") {
		if raw == "" {
			continue
		}
		orig = append(orig, raw)
		lower = append(lower, strings.ToLower(raw))
	}

	if t.paths.Len() < maxCachedPaths {
		joined := make([]string, 0, len(lower)*2)
		joined = append(append(joined, lower...), orig...)
		_ = t.paths.Set(ctx, path, joined, -1)
	}
	return lower, orig
}

const maxCachedPaths = 10000
