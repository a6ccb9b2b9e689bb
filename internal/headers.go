package internal

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
	contentTypeXML  = "application/xml; charset=utf-8"

	cacheNoStore = "private, no-cache, no-store, must-revalidate"
	cachePublic  = "public, max-age=11111111"
)

// compressible lists the media types gzip is applied to.
var compressible = map[string]bool{
	"text/plain":               true,
	"text/html":                true,
	"text/css":                 true,
	"text/javascript":          true,
	"text/jsx":                 true,
	"text/xml":                 true,
	"text/x-markdown":          true,
	"application/javascript":   true,
	"application/x-javascript": true,
	"application/json":         true,
	"application/xml":          true,
	"image/svg+xml":            true,
}

var minified = regexp.MustCompile(`(?i)[.\-]+min\.(css|js)$`)

// fileHeaders are the templates for file and stream responses, indexed by
// debug, compress and range.
var fileHeaders [2][2][2]map[string]string

func init() {
	for d := range 2 {
		for c := range 2 {
			for rg := range 2 {
				h := map[string]string{
					"Vary":                        "Accept-Encoding",
					"Access-Control-Allow-Origin": "*",
				}
				if d == 1 {
					h["Cache-Control"] = cacheNoStore
					h["Pragma"] = "no-cache"
					h["Expires"] = "0"
				} else {
					h["Cache-Control"] = cachePublic
				}
				if c == 1 {
					h["Content-Encoding"] = "gzip"
				}
				if rg == 1 {
					h["Accept-Ranges"] = "bytes"
				}
				fileHeaders[d][c][rg] = h
			}
		}
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func applyTemplate(h http.Header, tpl map[string]string) {
	for k, v := range tpl {
		h.Set(k, v)
	}
}

// shouldCompress decides gzip for a response of contentType named filename.
func shouldCompress(r *http.Request, allow bool, contentType, filename string) bool {
	if !allow {
		return false
	}
	mt, _, _ := strings.Cut(contentType, ";")
	if !compressible[strings.ToLower(strings.TrimSpace(mt))] {
		return false
	}
	if filename != "" && minified.MatchString(filename) {
		return false
	}
	return acceptsGzip(r)
}

// acceptsGzip reports whether Accept-Encoding lists gzip with a non-zero q.
func acceptsGzip(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept-Encoding") {
		for part := range strings.SplitSeq(v, ",") {
			enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return qValue(params) > 0
			}
		}
	}
	return false
}

// qValue reads the q parameter of an Accept-Encoding entry, 1 when absent.
// A malformed value counts as refusal.
func qValue(params string) float64 {
	for p := range strings.SplitSeq(params, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0
		}
		return q
	}
	return 1
}

// byteRange parses a single "bytes=start-end" range for a body of size.
// ok is false for a missing, malformed, multi-range or unsatisfiable value.
func byteRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") || size <= 0 {
		return 0, 0, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	switch {
	case first == "":
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		start, end = max(size-n, 0), size-1
	default:
		s, err := strconv.ParseInt(first, 10, 64)
		if err != nil || s < 0 || s >= size {
			return 0, 0, false
		}
		start, end = s, size-1
		if last != "" {
			e, err := strconv.ParseInt(last, 10, 64)
			if err != nil || e < s {
				return 0, 0, false
			}
			end = min(e, size-1)
		}
	}
	return start, end, true
}

func contentRange(start, end, size int64) string {
	return "bytes " + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10) + "/" + strconv.FormatInt(size, 10)
}
