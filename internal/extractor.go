package internal

import "strings"

// ExtractorSource reads one candidate value from the request.
// Returns the value and true if found, or ("", false) if not present.
type ExtractorSource = func(*Request) (string, bool)

// Extractor tries multiple sources in order and returns the first match.
// Authorization delegates use it to find a token wherever clients put it.
//
//	token := trellis.NewExtractor(trellis.FromBearerToken(), trellis.FromCookie("token"))
type Extractor struct {
	sources []ExtractorSource
}

// NewExtractor creates an Extractor that tries the given sources in order.
func NewExtractor(sources ...ExtractorSource) Extractor {
	return Extractor{sources: sources}
}

// Extract returns the first non-empty value, or ("", false).
func (e Extractor) Extract(r *Request) (string, bool) {
	for _, src := range e.sources {
		if v, ok := src(r); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func nonEmpty(v string) (string, bool) {
	return v, v != ""
}

// FromHeader returns a source that reads from a request header.
func FromHeader(name string) ExtractorSource {
	return func(r *Request) (string, bool) {
		return nonEmpty(r.Header.Get(name))
	}
}

// FromQuery returns a source that reads from a query parameter.
func FromQuery(name string) ExtractorSource {
	return func(r *Request) (string, bool) {
		return nonEmpty(r.Query().Get(name))
	}
}

// FromCookie returns a source that reads from a cookie.
func FromCookie(name string) ExtractorSource {
	return func(r *Request) (string, bool) {
		return nonEmpty(r.CookieValue(name))
	}
}

// FromBearerToken returns a source that reads a Bearer token from the
// Authorization header. The prefix is matched case-insensitively.
func FromBearerToken() ExtractorSource {
	return func(r *Request) (string, bool) {
		auth := r.Header.Get("Authorization")
		if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
			return "", false
		}
		return nonEmpty(auth[7:])
	}
}

// FromBasicUser returns a source that reads the user name of HTTP Basic
// authorization.
func FromBasicUser() ExtractorSource {
	return func(r *Request) (string, bool) {
		user, _, ok := r.BasicAuth()
		if !ok {
			return "", false
		}
		return nonEmpty(user)
	}
}
