package internal

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ndtt/trellis/pkg/view"
)

// HandlerFunc is a route action. Returning an HTTPError executes the system
// route for its code; any other error is a server error and becomes a 500.
type HandlerFunc func(c *Controller) error

// Controller is the per-action view of a request. It is a context.Context
// canceled when the action is superseded, times out or the client leaves.
//
// Every response primitive is at-most-once: after the first one, or once the
// controller was canceled, the rest return ErrCanceled or do nothing.
type Controller struct {
	context.Context
	cancelFn   context.CancelCauseFunc
	sub        *subscribe
	route      *Route
	out        output
	exception  error
	repository map[string]any
	params     []string
	status     int
	mu         sync.Mutex
	canceled   atomic.Bool
	timedOut   atomic.Bool
	isError    bool
}

func newController(s *subscribe, route *Route, params []string, isError bool, problem error) *Controller {
	ctx, cancel := context.WithCancelCause(s.req.Context())
	out := *s.out
	out.mobileVary = route.IsMobileVary

	status := http.StatusOK
	if route.IsSystem {
		status = route.Status
	}
	return &Controller{
		Context:   ctx,
		cancelFn:  cancel,
		sub:       s,
		route:     route,
		out:       out,
		params:    params,
		status:    status,
		isError:   isError,
		exception: problem,
	}
}

func (c *Controller) cancel(cause error) {
	c.canceled.Store(true)
	c.cancelFn(cause)
}

func (c *Controller) call() (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.sub.app.logger.ErrorContext(c, "action panicked", "route", c.route.Pattern, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.route.Action(c)
}

// App returns the application serving the request.
func (c *Controller) App() *App { return c.sub.app }

func (c *Controller) Request() *Request   { return c.sub.req }
func (c *Controller) Response() *Response { return c.sub.res }
func (c *Controller) Route() *Route       { return c.route }

// Logger returns the application logger.
func (c *Controller) Logger() *slog.Logger { return c.sub.app.logger }

// Params returns the positional path parameters.
func (c *Controller) Params() []string { return c.params }

// Param returns the path parameter registered as {name}, or "".
func (c *Controller) Param(name string) string {
	i := slices.Index(c.route.Params, name)
	if i < 0 || i >= len(c.params) {
		return ""
	}
	return c.params[i]
}

// Body returns the parsed body: a JSON value, url.Values for forms, a string
// or []byte for raw routes, map[string]string for XML, or the schema output.
func (c *Controller) Body() any { return c.sub.body }

// Bind decodes the body into v through JSON.
func (c *Controller) Bind(v any) error {
	data := c.sub.raw
	if c.sub.isSchema || c.sub.req.bodyKind() != bodyJSON || len(data) == 0 {
		var err error
		if data, err = bodyJSONBytes(c.sub.body); err != nil {
			return ErrBadRequest("invalid body", WithError(err))
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrBadRequest(msgInvalidJSON, WithError(err))
	}
	return nil
}

// Files returns the uploaded files of a multipart request.
func (c *Controller) Files() []*File { return c.sub.files }

// User returns the value the authorization delegate bound to the request.
func (c *Controller) User() any { return c.sub.user }

// IsAuthorized reports whether the authorization delegate accepted the request.
func (c *Controller) IsAuthorized() bool { return c.sub.member == MemberAuthorized }

// Exception returns the problem a system route is handling.
func (c *Controller) Exception() error { return c.exception }

func (c *Controller) IsError() bool    { return c.isError }
func (c *Controller) IsSchema() bool   { return c.sub.isSchema }
func (c *Controller) IsTransfer() bool { return c.sub.transfer }
func (c *Controller) IsTimeout() bool  { return c.timedOut.Load() }
func (c *Controller) IsCanceled() bool { return c.canceled.Load() }

// Set stores a value for views and later middleware.
func (c *Controller) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repository == nil {
		c.repository = make(map[string]any)
	}
	c.repository[key] = value
}

func (c *Controller) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repository[key]
}

// Header returns the response headers.
func (c *Controller) Header() http.Header { return c.sub.res.Header() }

// SetStatus sets the status used by Content, Plain, JSON, HTML and View.
func (c *Controller) SetStatus(code int) {
	c.mu.Lock()
	c.status = code
	c.mu.Unlock()
}

func (c *Controller) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// finished reports whether the request no longer accepts a response from c.
func (c *Controller) finished() bool {
	return c.canceled.Load() || c.sub.done() || c.sub.res.Written()
}

// begin is called by every primitive before writing. Once the request has
// an answer it cancels c and returns ErrCanceled.
func (c *Controller) begin() error {
	if c.finished() || !c.sub.success() {
		c.cancel(ErrCanceled)
		return ErrCanceled
	}
	c.sub.app.stats.Observe(c.route.URL, time.Since(c.sub.start))
	return nil
}

// Content writes body with contentType.
func (c *Controller) Content(body []byte, contentType string) error {
	if err := c.begin(); err != nil {
		return err
	}
	_, err := c.out.content(c.code(), body, contentType)
	return err
}

// Plain writes text/plain.
func (c *Controller) Plain(s string) error {
	return c.Content([]byte(s), contentTypeText)
}

// HTML writes text/html.
func (c *Controller) HTML(s string) error {
	return c.Content([]byte(s), contentTypeHTML)
}

// JSON serializes v.
func (c *Controller) JSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Content(data, contentTypeJSON)
}

// XML serializes v.
func (c *Controller) XML(v any) error {
	data, err := xml.Marshal(v)
	if err != nil {
		return err
	}
	return c.Content(append([]byte(xml.Header), data...), contentTypeXML)
}

// View renders the named view with model. Rendering goes to memory first so
// a failing view becomes a clean 500.
func (c *Controller) View(name string, model any) error {
	if c.finished() {
		c.cancel(ErrCanceled)
		return ErrCanceled
	}
	html, err := view.RenderBytes(c, c.sub.app.views, name, model)
	if err != nil {
		return err
	}
	return c.Content(html, contentTypeHTML)
}

// File serves a file from disk. A non-empty download sets the attachment
// name. A missing file executes the 404 route.
func (c *Controller) File(path, download string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.Throw404(err)
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return c.Throw404(nil)
	}
	if err := c.begin(); err != nil {
		return err
	}
	_, err = c.out.file(f, info.Size(), path, info.ModTime(), download)
	return err
}

// Stream copies r to the client. An empty contentType is derived from download.
func (c *Controller) Stream(contentType string, r io.Reader, download string) error {
	if err := c.begin(); err != nil {
		return err
	}
	_, err := c.out.stream(contentType, r, download)
	return err
}

// Binary writes raw bytes.
func (c *Controller) Binary(data []byte, contentType string) error {
	if err := c.begin(); err != nil {
		return err
	}
	_, err := c.out.binary(data, contentType)
	return err
}

// Redirect sends 302, or 301 when permanent.
func (c *Controller) Redirect(url string, permanent bool) error {
	if err := c.begin(); err != nil {
		return err
	}
	_, err := c.out.redirect(url, permanent)
	return err
}

// Empty sends the current status without a body.
func (c *Controller) Empty() error {
	if err := c.begin(); err != nil {
		return err
	}
	_, err := c.out.empty(c.code())
	return err
}

func (c *Controller) Throw400(problem error) error {
	return c.throw(http.StatusBadRequest, problem)
}

func (c *Controller) Throw401(problem error) error {
	return c.throw(http.StatusUnauthorized, problem)
}

func (c *Controller) Throw403(problem error) error {
	return c.throw(http.StatusForbidden, problem)
}

func (c *Controller) Throw404(problem error) error {
	return c.throw(http.StatusNotFound, problem)
}

func (c *Controller) Throw408(problem error) error {
	return c.throw(http.StatusRequestTimeout, problem)
}

func (c *Controller) Throw431(problem error) error {
	return c.throw(http.StatusRequestHeaderFieldsTooLarge, problem)
}

func (c *Controller) Throw500(problem error) error {
	return c.throw(http.StatusInternalServerError, problem)
}

func (c *Controller) Throw501(problem error) error {
	return c.throw(http.StatusNotImplemented, problem)
}

// throw hands the request to the system route for status. A system route
// throwing writes the built-in response instead of recursing.
func (c *Controller) throw(status int, problem error) error {
	if c.finished() {
		c.cancel(ErrCanceled)
		return ErrCanceled
	}
	if c.route.IsSystem {
		s := c.sub
		if status >= http.StatusInternalServerError && problem != nil {
			s.app.recordError(c, problem, c.route.Pattern, s.req.URL.String())
		}
		s.execute(nil, nil, status, true, problem)
		return nil
	}
	c.cancel(ErrCanceled)
	c.sub.fail(status, problem)
	return nil
}

// Transfer executes the route matching url for the current request. It
// reports false when nothing matches.
func (c *Controller) Transfer(url string) bool {
	if c.finished() {
		c.cancel(ErrCanceled)
		return false
	}
	s := c.sub
	u := *s.req.URL
	u.Path = url
	s.req.URL = &u

	route, params := s.app.routes.Match(s.req, s.member)
	if route == nil {
		return false
	}
	c.cancel(ErrCanceled)
	s.transfer = true
	s.route, s.params = route, params
	s.execute(route, params, 0, false, nil)
	return true
}
