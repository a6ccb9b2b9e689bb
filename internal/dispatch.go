package internal

import (
	"bytes"
	"compress/gzip"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// output writes terminal responses for one request through its guard.
type output struct {
	req        *Request
	res        *Response
	observe    func(status int)
	allowGzip  bool
	debug      bool
	mobileVary bool
}

func (o *output) done(status int) {
	if o.observe != nil {
		o.observe(status)
	}
}

func (o *output) isHead() bool { return o.req.Method == http.MethodHead }

// content writes an in-memory body. Handler set headers survive; the cache
// policy is only applied when none was set.
func (o *output) content(status int, body []byte, contentType string) (bool, error) {
	gz := shouldCompress(o.req.Request, o.allowGzip, contentType, "")

	sent, err := o.res.send(status, func(w http.ResponseWriter) (int64, error) {
		h := w.Header()
		h.Set("Content-Type", contentType)
		if h.Get("Cache-Control") == "" {
			if strings.HasPrefix(contentType, "application/json") {
				h.Set("Cache-Control", cacheNoStore)
			} else {
				h.Set("Cache-Control", "private")
			}
		}
		vary := "Accept-Encoding"
		if o.mobileVary {
			vary += ", User-Agent"
		}
		h.Add("Vary", vary)

		if gz {
			compressed, err := gzipBytes(body)
			if err == nil {
				body = compressed
				h.Set("Content-Encoding", "gzip")
			}
		}
		h.Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(status)
		if o.isHead() {
			return 0, nil
		}
		n, err := w.Write(body)
		return int64(n), err
	})
	if sent {
		o.done(status)
	}
	return sent, err
}

// empty writes a status with no body.
func (o *output) empty(status int) (bool, error) {
	sent, err := o.res.send(status, func(w http.ResponseWriter) (int64, error) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(status)
		return 0, nil
	})
	if sent {
		o.done(status)
	}
	return sent, err
}

func (o *output) redirect(url string, permanent bool) (bool, error) {
	status := http.StatusFound
	if permanent {
		status = http.StatusMovedPermanently
	}
	sent, err := o.res.send(status, func(w http.ResponseWriter) (int64, error) {
		h := w.Header()
		h.Set("Location", url)
		h.Set("Content-Type", contentTypeHTML)
		h.Set("Content-Length", "0")
		w.WriteHeader(status)
		return 0, nil
	})
	if sent {
		o.done(status)
	}
	return sent, err
}

// binary writes raw bytes with a public cache policy.
func (o *output) binary(data []byte, contentType string) (bool, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	gz := shouldCompress(o.req.Request, o.allowGzip, contentType, "")
	sent, err := o.res.send(http.StatusOK, func(w http.ResponseWriter) (int64, error) {
		h := w.Header()
		h.Set("Content-Type", contentType)
		h.Set("Cache-Control", "public")
		if gz {
			if compressed, err := gzipBytes(data); err == nil {
				data = compressed
				h.Set("Content-Encoding", "gzip")
			}
		}
		h.Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if o.isHead() {
			return 0, nil
		}
		n, err := w.Write(data)
		return int64(n), err
	})
	if sent {
		o.done(http.StatusOK)
	}
	return sent, err
}

// stream copies r to the client, gzipped when eligible.
func (o *output) stream(contentType string, r io.Reader, filename string) (bool, error) {
	if contentType == "" {
		contentType = mimeType(filename)
	}
	gz := shouldCompress(o.req.Request, o.allowGzip, contentType, filename)

	sent, err := o.res.send(http.StatusOK, func(w http.ResponseWriter) (int64, error) {
		h := w.Header()
		applyTemplate(h, fileHeaders[b2i(o.debug)][b2i(gz)][0])
		h.Del("Vary")
		h.Set("Content-Type", contentType)
		if filename != "" {
			h.Set("Content-Disposition", disposition(filename))
		}
		w.WriteHeader(http.StatusOK)
		if o.isHead() {
			return 0, nil
		}
		if !gz {
			return io.Copy(w, r)
		}
		zw := gzip.NewWriter(w)
		n, err := io.Copy(zw, r)
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
		return n, err
	})
	if sent {
		o.done(http.StatusOK)
	}
	return sent, err
}

// file serves content of size bytes, honoring a single byte range and
// If-Modified-Since. download sets Content-Disposition to name.
func (o *output) file(content io.ReadSeeker, size int64, name string, modified time.Time, download string) (bool, error) {
	contentType := mimeType(name)

	if !modified.IsZero() && !o.debug {
		if since, err := http.ParseTime(o.req.Header.Get("If-Modified-Since")); err == nil && !modified.Truncate(time.Second).After(since) {
			sent, err := o.res.send(http.StatusNotModified, func(w http.ResponseWriter) (int64, error) {
				w.Header().Set("Cache-Control", cachePublic)
				w.WriteHeader(http.StatusNotModified)
				return 0, nil
			})
			if sent {
				o.done(http.StatusNotModified)
			}
			return sent, err
		}
	}

	start, end, ranged := byteRange(o.req.Header.Get("Range"), size)
	gz := !ranged && shouldCompress(o.req.Request, o.allowGzip, contentType, name)
	status := http.StatusOK
	if ranged {
		status = http.StatusPartialContent
	}

	sent, err := o.res.send(status, func(w http.ResponseWriter) (int64, error) {
		h := w.Header()
		applyTemplate(h, fileHeaders[b2i(o.debug)][b2i(gz)][b2i(ranged)])
		h.Set("Content-Type", contentType)
		if !modified.IsZero() {
			h.Set("Last-Modified", modified.UTC().Format(http.TimeFormat))
		}
		if download != "" {
			h.Set("Content-Disposition", disposition(download))
		}

		var body io.Reader = content
		switch {
		case ranged:
			if _, err := content.Seek(start, io.SeekStart); err != nil {
				return 0, err
			}
			body = io.LimitReader(content, end-start+1)
			h.Set("Content-Range", contentRange(start, end, size))
			h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		case !gz:
			h.Set("Content-Length", strconv.FormatInt(size, 10))
		}

		w.WriteHeader(status)
		if o.isHead() {
			return 0, nil
		}
		if !gz {
			return io.Copy(w, body)
		}
		zw := gzip.NewWriter(w)
		n, err := io.Copy(zw, body)
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
		return n, err
	})
	if sent {
		o.done(status)
	}
	return sent, err
}

// builtin writes the plain "<code>: <text>" fallback used when no system
// route handles status. detail is appended in debug mode only.
func (o *output) builtin(status int, detail string) (bool, error) {
	body := strconv.Itoa(status) + ": " + http.StatusText(status)
	if o.debug && detail != "" {
		body += "\n\n" + detail
	}
	return o.content(status, []byte(body), contentTypeText)
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mimeType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func disposition(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(name)})
}
