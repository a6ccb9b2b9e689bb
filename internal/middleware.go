package internal

import (
	"sync"
)

// Flow tells the chain what a middleware did with the request.
type Flow int

const (
	// Await means the middleware calls next itself, possibly later and from
	// another goroutine.
	Await Flow = iota
	// Proceed means the middleware finished synchronously; the chain
	// continues without waiting for next.
	Proceed
	// Halt stops the chain. The middleware owns the response.
	Halt
)

func (f Flow) String() string {
	switch f {
	case Await:
		return "await"
	case Proceed:
		return "proceed"
	case Halt:
		return "halt"
	}
	return "unknown"
}

// NextFunc continues the chain. A non-nil error aborts it with a 500.
// Only the first call of a step has an effect.
type NextFunc func(err error)

// MiddlewareFunc is a named route middleware. opts are the route options.
//
//	app.Middleware("auth", func(req *trellis.Request, res *trellis.Response, next trellis.NextFunc, opts map[string]any, c *trellis.Controller) trellis.Flow {
//	    if req.Header.Get("X-Token") == "" {
//	        _ = c.Throw401(nil)
//	        return trellis.Halt
//	    }
//	    return trellis.Proceed
//	})
type MiddlewareFunc func(req *Request, res *Response, next NextFunc, opts map[string]any, c *Controller) Flow

// middlewares is the registry of named middleware.
type middlewares struct {
	items map[string]MiddlewareFunc
	mu    sync.RWMutex
}

func newMiddlewares() *middlewares {
	return &middlewares{items: make(map[string]MiddlewareFunc)}
}

func (m *middlewares) add(name string, fn MiddlewareFunc) {
	m.mu.Lock()
	m.items[name] = fn
	m.mu.Unlock()
}

func (m *middlewares) remove(name string) {
	m.mu.Lock()
	delete(m.items, name)
	m.mu.Unlock()
}

func (m *middlewares) get(name string) (MiddlewareFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.items[name]
	return fn, ok
}

func (m *middlewares) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// chain runs names in order and calls done when all of them proceeded.
type chain struct {
	registry *middlewares
	sub      *subscribe
	ctrl     *Controller
	opts     map[string]any
	done     func()
	names    []string
}

func (ch *chain) run(i int) {
	for ; i < len(ch.names); i++ {
		if ch.sub.res.Written() {
			ch.sub.success()
			return
		}

		name := ch.names[i]
		fn, ok := ch.registry.get(name)
		if !ok {
			ch.sub.app.logger.Error("middleware not found", "middleware", name, "route", ch.ctrl.route.Pattern)
			continue
		}

		var once sync.Once
		step := i
		next := func(err error) {
			once.Do(func() {
				if err != nil {
					_ = ch.ctrl.Throw500(err)
					return
				}
				ch.run(step + 1)
			})
		}

		switch ch.invoke(fn, next) {
		case Halt, Await:
			return
		case Proceed:
			consumed := true
			once.Do(func() { consumed = false })
			if consumed {
				// next already ran the rest of the chain
				return
			}
		}
	}

	if ch.sub.res.Written() {
		ch.sub.success()
		return
	}
	ch.done()
}

func (ch *chain) invoke(fn MiddlewareFunc, next NextFunc) (flow Flow) {
	defer func() {
		if r := recover(); r != nil {
			flow = Halt
			ch.sub.panicked(r)
		}
	}()
	return fn(ch.sub.req, ch.sub.res, next, ch.opts, ch.ctrl)
}
