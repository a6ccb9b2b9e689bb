package internal

import (
	"slices"
	"strings"
)

// Route flags. Verb flags select methods; the rest qualify matching or
// change how the body is handled.
const (
	FlagJSON        = "json"
	FlagXML         = "xml"
	FlagRaw         = "raw"
	FlagBinary      = "binary"
	FlagUpload      = "upload"
	FlagAuthorize   = "authorize"
	FlagUnauthorize = "unauthorize"
	FlagMobile      = "mobile"
	FlagRobot       = "robot"
	FlagXHR         = "xhr"
	FlagNoXHR       = "noxhr"
	FlagReferer     = "referer"
	FlagHTTPS       = "https"
	FlagHTTP        = "http"
	FlagDebug       = "debug"
	FlagRelease     = "release"
	FlagCORS        = "cors"
	FlagDelay       = "delay"
	FlagProxy       = "proxy"
	FlagCredentials = "credentials"
)

var verbs = map[string]string{
	"get":      "GET",
	"post":     "POST",
	"put":      "PUT",
	"patch":    "PATCH",
	"delete":   "DELETE",
	"head":     "HEAD",
	"options":  "OPTIONS",
	"trace":    "TRACE",
	"propfind": "PROPFIND",
}

var flagAliases = map[string]string{
	"authorized":   FlagAuthorize,
	"logged":       FlagAuthorize,
	"unauthorized": FlagUnauthorize,
	"unlogged":     FlagUnauthorize,
	"referrer":     FlagReferer,
	"credential":   FlagCredentials,
	"-xhr":         FlagNoXHR,
}

// qualifiers are flags a request has to satisfy for the route to match.
var qualifiers = []string{FlagXHR, FlagMobile, FlagRobot, FlagReferer, FlagHTTPS, FlagHTTP, FlagDebug, FlagRelease, FlagUpload}

// parsedFlags is the result of reading a route's flag list.
type parsedFlags struct {
	set         map[string]bool
	methods     []string
	roles       []string
	middleware  []string
	origins     []string
	comment     string
	schema      *SchemaRef
	member      int
	count       int
	hasVerb     bool
	credentials bool
}

func parseFlags(flags []string) parsedFlags {
	p := parsedFlags{set: make(map[string]bool)}

	for _, raw := range flags {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		switch {
		case strings.HasPrefix(raw, "// "):
			p.comment = strings.TrimSpace(raw[3:])
			continue
		case raw[0] == '#':
			p.middleware = append(p.middleware, raw[1:])
			continue
		case raw[0] == '*':
			p.schema = parseSchemaRef(raw[1:])
			continue
		}

		flag := strings.ToLower(raw)
		if alias, ok := flagAliases[flag]; ok {
			flag = alias
		}

		switch {
		case strings.HasPrefix(flag, "http://"), strings.HasPrefix(flag, "https://"):
			p.origins = append(p.origins, flag)
			continue
		case flag == FlagCredentials:
			p.credentials = true
			continue
		case flag == FlagDelay, flag == FlagCORS:
			p.set[flag] = true
			continue
		case flag[0] == '@':
			p.roles = append(p.roles, flag[1:])
		case strings.HasPrefix(flag, "role:"):
			p.roles = append(p.roles, flag[5:])
		}

		p.count++
		p.set[flag] = true

		if m, ok := verbs[flag]; ok {
			p.hasVerb = true
			p.methods = appendUnique(p.methods, m)
		}
		switch flag {
		case FlagAuthorize:
			p.member = MemberAuthorized
		case FlagUnauthorize:
			p.member = MemberUnauthorized
		}
	}

	if p.set[FlagProxy] {
		p.set[FlagJSON] = true
	}
	if p.set[FlagBinary] && !p.set[FlagRaw] {
		delete(p.set, FlagBinary)
	}

	bodyVerb := p.has("POST", "PUT", "PATCH", "DELETE")
	if (p.set[FlagJSON] || p.set[FlagXML] || p.set[FlagRaw]) && !bodyVerb {
		p.methods = appendUnique(p.methods, "POST")
	}
	if p.set[FlagUpload] && !p.has("POST", "PUT") {
		p.methods = appendUnique(p.methods, "POST")
	}
	if len(p.methods) == 0 {
		p.methods = []string{"GET"}
	}
	return p
}

func (p parsedFlags) has(methods ...string) bool {
	return slices.ContainsFunc(methods, func(m string) bool { return slices.Contains(p.methods, m) })
}

// SchemaRef names a validation schema: "Group/Name#sub". A bare "Name"
// belongs to the "default" group.
type SchemaRef struct {
	Group string
	Name  string
	Sub   string
}

func (s SchemaRef) String() string {
	out := s.Group + "/" + s.Name
	if s.Sub != "" {
		out += "#" + s.Sub
	}
	return out
}

func parseSchemaRef(v string) *SchemaRef {
	v = strings.TrimSpace(strings.ReplaceAll(v, `\`, "/"))
	if i := strings.Index(v, "-->"); i != -1 {
		v = strings.TrimSpace(v[:i])
	}
	ref := &SchemaRef{Group: "default", Name: v}
	if i := strings.IndexByte(v, '/'); i != -1 {
		ref.Group, ref.Name = v[:i], v[i+1:]
	}
	if i := strings.IndexByte(ref.Name, '#'); i != -1 {
		ref.Sub = strings.TrimSpace(ref.Name[i+1:])
		ref.Name = strings.TrimSpace(ref.Name[:i])
	}
	return ref
}

func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}
