package internal

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/language"

	"github.com/ndtt/trellis/pkg/hostrouter"
)

var (
	mobileUA = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini|Mobile|Tablet`)
	robotUA  = regexp.MustCompile(`(?i)search|agent|bot|crawler|spider`)
)

// Body kinds derived from Content-Type.
const (
	bodyNone = iota
	bodyJSON
	bodyXML
	bodyForm
	bodyMultipart
	bodyOther
)

// Request wraps the incoming *http.Request with the accessors the router and
// handlers use.
type Request struct {
	*http.Request
	query     url.Values
	subdomain *string
	roles     []string
	domain    string
	debug     bool
}

func newRequest(r *http.Request, domain string, debug bool) *Request {
	return &Request{Request: r, domain: domain, debug: debug}
}

// IP returns the client address, preferring the first X-Forwarded-For entry.
func (r *Request) IP() string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Subdomain returns the labels left of the configured domain, or of the last
// two labels when no domain is configured.
func (r *Request) Subdomain() string {
	if r.subdomain == nil {
		sub := hostrouter.Subdomain(r.Host, r.domain)
		r.subdomain = &sub
	}
	return *r.subdomain
}

// Query returns the parsed query string. The result is cached.
func (r *Request) Query() url.Values {
	if r.query == nil {
		r.query = r.URL.Query()
	}
	return r.query
}

// Extension returns the lowercased file extension of the path without the dot.
func (r *Request) Extension() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(r.URL.Path)), ".")
}

// Language picks the best match from available using Accept-Language.
// It returns the first available tag when nothing matches.
func (r *Request) Language(available ...string) string {
	if len(available) == 0 {
		tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
		if err != nil || len(tags) == 0 {
			return ""
		}
		base, _ := tags[0].Base()
		return base.String()
	}

	supported := make([]language.Tag, 0, len(available))
	for _, a := range available {
		supported = append(supported, language.Make(a))
	}
	matcher := language.NewMatcher(supported)
	_, idx := language.MatchStrings(matcher, r.Header.Get("Accept-Language"))
	return available[idx]
}

func (r *Request) IsMobile() bool { return mobileUA.MatchString(r.UserAgent()) }
func (r *Request) IsRobot() bool  { return robotUA.MatchString(r.UserAgent()) }

func (r *Request) IsXHR() bool {
	return strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

// IsSecure reports a TLS connection or an https forwarding proxy.
func (r *Request) IsSecure() bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// IsMultipart reports a multipart/form-data body.
func (r *Request) IsMultipart() bool { return r.bodyKind() == bodyMultipart }

// HasReferer reports a Referer header pointing at the requested host.
func (r *Request) HasReferer() bool {
	u, err := url.Parse(r.Referer())
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host)
}

// CookieValue returns the value of the named cookie, or "".
func (r *Request) CookieValue(name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Roles returns the roles added during authorization.
func (r *Request) Roles() []string { return r.roles }

// AddRole grants a role for the rest of the request.
func (r *Request) AddRole(roles ...string) {
	for _, role := range roles {
		r.roles = appendUnique(r.roles, strings.ToLower(role))
	}
}

func (r *Request) HasRole(role string) bool {
	return slices.Contains(r.roles, strings.ToLower(role))
}

func (r *Request) hasFlag(flag string) bool {
	switch flag {
	case FlagXHR:
		return r.IsXHR()
	case FlagMobile:
		return r.IsMobile()
	case FlagRobot:
		return r.IsRobot()
	case FlagReferer:
		return r.HasReferer()
	case FlagHTTPS:
		return r.IsSecure()
	case FlagHTTP:
		return !r.IsSecure()
	case FlagDebug:
		return r.debug
	case FlagRelease:
		return !r.debug
	case FlagUpload:
		return r.IsMultipart()
	}
	return false
}

func (r *Request) mediaType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

func (r *Request) bodyKind() int {
	mt := r.mediaType()
	switch {
	case mt == "":
		return bodyNone
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return bodyJSON
	case mt == "text/xml" || mt == "application/xml" || strings.HasSuffix(mt, "+xml"):
		return bodyXML
	case mt == "application/x-www-form-urlencoded":
		return bodyForm
	case strings.HasPrefix(mt, "multipart/form-data"):
		return bodyMultipart
	}
	return bodyOther
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
