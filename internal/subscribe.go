package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ndtt/trellis/pkg/schema"
)

// State is the stage a subscribe has reached.
type State int32

const (
	StateCreated State = iota
	StateBodyAccumulating
	StateParsed
	StateAuthorizing
	StateSchemaValidating
	StateMiddlewareRunning
	StateExecuting
	StateCompleted
	StateCanceled
	StateTimedOut
)

var stateNames = [...]string{
	"created", "body-accumulating", "parsed", "authorizing", "schema-validating",
	"middleware-running", "executing", "completed", "canceled", "timed-out",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// subscribe drives one request from body to response. The request goroutine
// and the timeout timer share it; mu guards the timer and the controller.
type subscribe struct {
	app      *App
	req      *Request
	res      *Response
	out      *output
	route    *Route
	params   []string
	body     any
	raw      []byte
	files    []*File
	user     any
	ctrl     *Controller
	timer    *time.Timer
	start    time.Time
	bodyRead chan struct{}
	bodyOnce sync.Once
	member   int
	state    atomic.Int32
	mu       sync.Mutex
	canceled bool
	timedOut bool
	exceeded bool
	isSchema bool
	transfer bool
}

func newSubscribe(a *App, req *Request, res *Response, out *output) *subscribe {
	return &subscribe{app: a, req: req, res: res, out: out, start: time.Now(), bodyRead: make(chan struct{})}
}

// State returns the current stage.
func (s *subscribe) State() State { return State(s.state.Load()) }

func (s *subscribe) setState(st State) {
	for {
		cur := s.state.Load()
		if State(cur) >= StateCompleted && st < StateCompleted {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

func (s *subscribe) finishBody() {
	s.bodyOnce.Do(func() { close(s.bodyRead) })
}

// run is the body of the request goroutine.
func (s *subscribe) run() {
	defer s.finishBody()
	defer func() {
		if r := recover(); r != nil {
			s.panicked(r)
		}
	}()

	if hasBody(s.req.Method) {
		s.accumulate()
		return
	}
	s.finishBody()
	s.prepare()
}

func (s *subscribe) accumulate() {
	s.setState(StateBodyAccumulating)
	s.route, s.params = s.app.routes.Match(s.req, MemberAny)
	if s.route == nil {
		s.app.stats.Request("blocked")
		s.finishBody()
		_, _ = s.out.empty(http.StatusForbidden)
		return
	}

	if s.req.IsMultipart() {
		s.app.stats.Request("upload")
		values, files, exceeded, err := parseMultipart(s.req, s.app.cfg.TempDir, s.route.MaxBody)
		s.finishBody()
		s.files, s.exceeded = files, exceeded
		if err != nil {
			s.fail(http.StatusBadRequest, err)
			return
		}
		if exceeded {
			s.fail(http.StatusRequestHeaderFieldsTooLarge, nil)
			return
		}
		s.body = values
		s.setState(StateParsed)
		s.prepare()
		return
	}

	data, exceeded, err := readBody(s.req.Body, s.route.MaxBody)
	s.finishBody()
	if exceeded {
		s.exceeded = true
		s.fail(http.StatusRequestHeaderFieldsTooLarge, nil)
		return
	}
	if err != nil {
		s.fail(http.StatusBadRequest, err)
		return
	}

	body, status, problem := parseBody(s.req, s.route, data)
	if status != 0 {
		s.fail(status, problem)
		return
	}
	s.raw, s.body = data, body
	s.setState(StateParsed)
	s.prepare()
}

// prepare resolves the route, authorizing first when a delegate is set.
func (s *subscribe) prepare() {
	if s.app.authorize != nil {
		s.authorize()
		return
	}

	if s.route == nil {
		s.route, s.params = s.app.routes.Match(s.req, MemberAny)
	}
	if s.route == nil {
		s.fail(http.StatusNotFound, nil)
		return
	}
	s.validate(func() { s.execute(s.route, s.params, 0, false, nil) })
}

func (s *subscribe) authorize() {
	s.setState(StateAuthorizing)

	granted := len(s.req.Roles())
	authorized, user := s.app.authorize(s.req)
	addedRoles := len(s.req.Roles()) != granted

	s.member = MemberUnauthorized
	if authorized {
		s.member = MemberAuthorized
	}
	s.user = user

	if r := s.route; r != nil && r.IsUnique && !addedRoles && (r.Member == MemberAny || r.Member == s.member) {
		s.validate(func() { s.execute(r, s.params, 0, false, nil) })
		return
	}

	route, params := s.app.routes.Match(s.req, s.member)
	if route == nil {
		status := http.StatusUnauthorized
		if authorized {
			status = http.StatusNotFound
		}
		s.fail(status, nil)
		return
	}
	s.route, s.params = route, params
	s.validate(func() { s.execute(route, params, 0, false, nil) })
}

// validate runs the route schema and continues with next on success.
func (s *subscribe) validate(next func()) {
	r := s.route
	if r.Schema == nil || s.req.Method == http.MethodDelete || s.app.schemas == nil {
		next()
		return
	}

	s.setState(StateSchemaValidating)
	body, err := s.app.schemas.Validate(s.req.Context(), r.Schema.Group, r.Schema.Name, r.Schema.Sub, s.body)
	if err != nil {
		s.fail(http.StatusBadRequest, err)
		return
	}
	s.app.stats.Request("schema")
	s.body, s.isSchema = body, true
	next()
}

// fail executes the system route for status, or the built-in response.
func (s *subscribe) fail(status int, problem error) {
	if status >= http.StatusInternalServerError && problem != nil {
		name := ""
		if s.route != nil {
			name = s.route.Pattern
		}
		s.app.recordError(s.req.Context(), problem, name, s.req.URL.String())
	}
	s.execute(s.app.routes.Lookup(status), nil, status, true, problem)
}

// execute runs route through its middleware into the action. A nil route
// writes the built-in response for status.
func (s *subscribe) execute(route *Route, params []string, status int, isError bool, problem error) {
	if route == nil {
		s.success()
		var verr schema.Errors
		if status == http.StatusBadRequest && errors.As(problem, &verr) {
			_, _ = s.out.content(status, verr.Output(), contentTypeJSON)
			return
		}
		if status == 0 {
			status = http.StatusNotFound
		}
		detail := ""
		if problem != nil {
			detail = problem.Error()
		}
		_, _ = s.out.builtin(status, detail)
		return
	}

	ctrl := newController(s, route, params, isError, problem)
	s.app.decorateCORS(s.res, s.req, route)

	s.mu.Lock()
	if prev := s.ctrl; prev != nil {
		prev.cancel(ErrCanceled)
	}
	s.ctrl = ctrl
	if !s.canceled && !s.timedOut && route.Timeout > 0 {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = time.AfterFunc(route.Timeout, func() { s.timeout(ctrl) })
	}
	s.mu.Unlock()

	names := s.app.middlewareFor(route)
	if len(names) == 0 {
		s.invoke(ctrl)
		return
	}
	s.setState(StateMiddlewareRunning)
	ch := &chain{
		registry: s.app.middleware,
		sub:      s,
		ctrl:     ctrl,
		opts:     route.Options,
		names:    names,
		done:     func() { s.invoke(ctrl) },
	}
	ch.run(0)
}

func (s *subscribe) invoke(c *Controller) {
	if c.IsCanceled() {
		return
	}
	s.setState(StateExecuting)
	if err := c.call(); err != nil {
		s.actionFailed(c, err)
	}
}

// actionFailed maps an error returned by an action to a response.
func (s *subscribe) actionFailed(c *Controller, err error) {
	if c.finished() {
		if !errors.Is(err, ErrCanceled) {
			s.app.logger.DebugContext(c, "action failed after cancel", "route", c.route.Pattern, "error", err)
		}
		return
	}

	if httpErr := AsHTTPError(err); httpErr != nil && httpErr.Code < http.StatusInternalServerError {
		_ = c.throw(httpErr.Code, err)
		return
	}
	var verr schema.Errors
	if errors.As(err, &verr) {
		_ = c.throw(http.StatusBadRequest, err)
		return
	}

	s.app.logger.ErrorContext(c, "action failed", "route", c.route.Pattern, "url", s.req.URL.String(), "error", err)
	_ = c.throw(http.StatusInternalServerError, err)
}

// panicked recovers a panic anywhere in the pipeline into a 500.
func (s *subscribe) panicked(r any) {
	err := fmt.Errorf("panic: %v", r)
	s.app.logger.ErrorContext(s.req.Context(), "request panicked",
		slog.String("url", s.req.URL.String()),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl != nil && ctrl.route.IsSystem && ctrl.route.Status == http.StatusInternalServerError {
		// the 500 route itself failed
		s.execute(nil, nil, http.StatusInternalServerError, true, err)
		return
	}
	s.fail(http.StatusInternalServerError, err)
}

// success stops the timer and marks the subscribe finished. It reports
// whether this call finished it; later calls do nothing.
func (s *subscribe) success() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.canceled {
		return false
	}
	s.canceled = true
	if !s.timedOut {
		s.setState(StateCompleted)
	}
	return true
}

// done reports whether the subscribe already answered or was abandoned.
func (s *subscribe) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// timeout fires when ctrl did not respond within its route timeout.
func (s *subscribe) timeout(ctrl *Controller) {
	defer func() {
		if r := recover(); r != nil {
			s.panicked(r)
		}
	}()

	s.mu.Lock()
	if s.canceled || s.ctrl != ctrl {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.timedOut = true
	s.mu.Unlock()

	s.app.stats.Timeout()
	ctrl.timedOut.Store(true)
	ctrl.cancel(ErrTimeout)
	s.setState(StateTimedOut)
	s.execute(s.app.routes.Lookup(http.StatusRequestTimeout), nil, http.StatusRequestTimeout, true, ErrTimeout)
}

// detach is called when the client went away before a response.
func (s *subscribe) detach() {
	s.mu.Lock()
	ctrl := s.ctrl
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.canceled = true
	s.mu.Unlock()
	if ctrl != nil {
		ctrl.cancel(ErrCanceled)
	}
	s.setState(StateCanceled)
}

// cleanup removes uploads that were not moved away.
func (s *subscribe) cleanup() {
	for _, f := range s.files {
		f.remove()
	}
}

// middlewareFor returns the global middleware followed by the route's own.
func (a *App) middlewareFor(r *Route) []string {
	a.mu.RLock()
	global := a.globalMiddleware
	a.mu.RUnlock()
	if len(global) == 0 {
		return r.Middleware
	}
	if len(r.Middleware) == 0 {
		return global
	}
	return slices.Concat(global, r.Middleware)
}
