package internal

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Membertype values.
const (
	MemberAny          = 0
	MemberAuthorized   = 1
	MemberUnauthorized = 2
)

// SystemStatuses are the statuses that can be registered as "#code" routes.
var SystemStatuses = []int{400, 401, 403, 404, 408, 431, 500, 501}

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segParam
	segRegex
)

type segment struct {
	re    *regexp.Regexp
	value string
	kind  segmentKind
}

// Route is a registered route. It is immutable once added to a table,
// except for the fields Sort recomputes.
type Route struct {
	Action     HandlerFunc
	Options    map[string]any
	Schema     *SchemaRef
	flags      map[string]bool
	Pattern    string
	URL        string
	Owner      string
	Comment    string
	Subdomains []string
	Methods    []string
	Roles      []string
	Middleware []string
	Origins    []string
	Params     []string
	segments   []segment
	Priority   int
	FlagCount  int
	Member     int
	Status     int
	Timeout    time.Duration
	MaxBody    int64
	order      int

	IsWildcard   bool
	IsSystem     bool
	IsCacheable  bool
	IsMobileVary bool
	IsUnique     bool
	Credentials  bool
}

// RouteOption configures a route at registration.
type RouteOption func(*Route)

// WithTimeout overrides the default response timeout. Zero disables it.
func WithTimeout(d time.Duration) RouteOption {
	return func(r *Route) { r.Timeout = max(d, 0) }
}

// WithRouteOptions attaches values passed to the route's middleware.
func WithRouteOptions(opts map[string]any) RouteOption {
	return func(r *Route) { r.Options = maps.Clone(opts) }
}

// WithOwner marks the route as installed by the named module.
func WithOwner(name string) RouteOption {
	return func(r *Route) { r.Owner = name }
}

// Has reports whether the route carries flag.
func (r *Route) Has(flag string) bool { return r.flags[flag] }

// Flags returns the route's flags in sorted order.
func (r *Route) Flags() []string { return slices.Sorted(maps.Keys(r.flags)) }

func (r *Route) allows(method string) bool {
	if slices.Contains(r.Methods, method) {
		return true
	}
	return method == "HEAD" && slices.Contains(r.Methods, "GET")
}

// NewRoute parses pattern and flags into a route. The pattern may start with
// a subdomain selector "[api,www]", use "{name}" and "{/regex/flags}"
// segments, end with "*", or be a system route "#404".
func NewRoute(pattern string, action HandlerFunc, flags []string, maxBody int64, opts ...RouteOption) (*Route, error) {
	pf := parseFlags(flags)

	r := &Route{
		Action:      action,
		Pattern:     pattern,
		Schema:      pf.schema,
		flags:       pf.set,
		Comment:     pf.comment,
		Methods:     pf.methods,
		Roles:       pf.roles,
		Middleware:  pf.middleware,
		Origins:     pf.origins,
		Credentials: pf.credentials,
		FlagCount:   pf.count,
		Member:      pf.member,
		MaxBody:     maxBody,
		Timeout:     -1,
	}

	url := strings.TrimSpace(pattern)
	if strings.HasPrefix(url, "[") {
		end := strings.IndexByte(url, ']')
		if end == -1 {
			return nil, fmt.Errorf("%w: unterminated subdomain selector in %q", ErrInvalidRoute, pattern)
		}
		for sub := range strings.SplitSeq(url[1:end], ",") {
			if sub = strings.ToLower(strings.TrimSpace(sub)); sub != "" {
				r.Subdomains = append(r.Subdomains, sub)
			}
		}
		url = url[end+1:]
	}

	if strings.HasPrefix(url, "#") {
		code, err := strconv.Atoi(url[1:])
		if err != nil || !slices.Contains(SystemStatuses, code) {
			return nil, fmt.Errorf("%w: %q is not a system route", ErrInvalidRoute, pattern)
		}
		r.IsSystem = true
		r.Status = code
		r.URL = url
	} else {
		if i := strings.IndexByte(url, '*'); i != -1 {
			r.IsWildcard = true
			url = url[:i]
		}
		for _, raw := range splitPattern(url) {
			seg, name, err := parseSegment(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %w", ErrInvalidRoute, pattern, err)
			}
			if seg.kind != segLiteral {
				r.Params = append(r.Params, name)
			}
			r.segments = append(r.segments, seg)
		}
		r.URL = routeKey(r.segments, r.IsWildcard)
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.Has(FlagDelay) {
		r.Timeout = 0
	}

	r.Priority = priority(r)
	r.IsCacheable = len(r.Params) == 0 && !r.IsWildcard && !r.IsSystem
	return r, nil
}

// splitPattern splits a URL pattern on slashes outside braces, so regex
// segments may contain them.
func splitPattern(url string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(url); i++ {
		switch url[i] {
		case '{':
			depth++
		case '}':
			depth = max(depth-1, 0)
		case '/':
			if depth == 0 {
				if i > start {
					parts = append(parts, url[start:i])
				}
				start = i + 1
			}
		}
	}
	if start < len(url) {
		parts = append(parts, url[start:])
	}
	return parts
}

func parseSegment(raw string) (segment, string, error) {
	if !strings.HasPrefix(raw, "{") || !strings.HasSuffix(raw, "}") {
		return segment{kind: segLiteral, value: strings.ToLower(raw)}, "", nil
	}
	inner := raw[1 : len(raw)-1]
	if !strings.HasPrefix(inner, "/") {
		return segment{kind: segParam, value: inner}, inner, nil
	}
	end := strings.LastIndexByte(inner, '/')
	if end <= 0 {
		return segment{}, "", fmt.Errorf("regex segment %q has no closing slash", raw)
	}
	expr, options := inner[1:end], inner[end+1:]
	if strings.Contains(options, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return segment{}, "", err
	}
	return segment{kind: segRegex, re: re}, "", nil
}

func routeKey(segs []segment, wildcard bool) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		switch s.kind {
		case segLiteral:
			b.WriteString(s.value)
		case segParam:
			b.WriteString("{" + s.value + "}")
		case segRegex:
			b.WriteString("{/" + s.re.String() + "/}")
		}
	}
	if wildcard {
		b.WriteString("/*")
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

func priority(r *Route) int {
	p := len(r.segments) * 2
	if len(r.Subdomains) > 0 {
		if slices.Contains(r.Subdomains, "*") {
			p += 50
		} else {
			p += 100
		}
	}
	if r.IsWildcard {
		p -= 100
	}
	if r.IsSystem {
		p -= 100
	}
	p -= len(r.Params)
	if r.Has(FlagAuthorize) {
		p += 2
	}
	if r.Has(FlagUnauthorize) {
		p += 2
	}
	return p
}

// matchPath compares request segments with the route. lower holds the
// lowercased segments, orig the original ones used for parameter values.
func (r *Route) matchPath(lower, orig []string) ([]string, bool) {
	if r.IsSystem {
		return nil, false
	}
	if r.IsWildcard {
		if len(lower) < len(r.segments) {
			return nil, false
		}
	} else if len(lower) != len(r.segments) {
		return nil, false
	}

	var params []string
	for i, seg := range r.segments {
		switch seg.kind {
		case segLiteral:
			if lower[i] != seg.value {
				return nil, false
			}
		case segParam:
			params = append(params, orig[i])
		case segRegex:
			if !seg.re.MatchString(orig[i]) {
				return nil, false
			}
			params = append(params, orig[i])
		}
	}
	return params, true
}

func (r *Route) matchSubdomain(sub string) bool {
	if len(r.Subdomains) == 0 {
		return true
	}
	if slices.Contains(r.Subdomains, "*") {
		return sub != ""
	}
	return slices.Contains(r.Subdomains, sub)
}

// matchFlags checks qualifiers, roles and membertype against the request.
func (r *Route) matchFlags(req *Request, member int) bool {
	for _, q := range qualifiers {
		want := r.flags[q]
		if q == FlagUpload {
			if want != req.IsMultipart() {
				return false
			}
			continue
		}
		if want && !req.hasFlag(q) {
			return false
		}
	}
	if r.flags[FlagNoXHR] && req.IsXHR() {
		return false
	}
	if len(r.Roles) > 0 && !slices.ContainsFunc(r.Roles, req.HasRole) {
		return false
	}
	if r.Member != MemberAny && member != MemberAny && r.Member != member {
		return false
	}
	return true
}
