package internal

import (
	"bufio"
	"net"
	"net/http"
	"sync"
)

// Response guards the http.ResponseWriter of one request: the first
// primitive that claims it writes, every later one is a no-op. It also
// stays silent once the client has gone.
type Response struct {
	w           http.ResponseWriter
	done        chan struct{}
	beforeWrite []func(h http.Header)
	status      int
	size        int64
	mu          sync.Mutex
	finish      sync.Once
	claimed     bool
	detached    bool
	hijacked    bool
}

func newResponse(w http.ResponseWriter) *Response {
	return &Response{w: w, status: http.StatusOK, done: make(chan struct{})}
}

// Header returns the headers that will be sent. After the response has been
// claimed it returns a detached map so late writers cannot race the sender.
func (r *Response) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed || r.detached {
		return http.Header{}
	}
	return r.w.Header()
}

// OnBeforeWrite registers a hook that can still change the headers right
// before the status line is written. Hooks run once, in registration order.
func (r *Response) OnBeforeWrite(fn func(h http.Header)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeWrite = append(r.beforeWrite, fn)
}

// Written reports whether a primitive has claimed the response.
func (r *Response) Written() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimed || r.detached
}

// Status returns the status code sent, 200 until something is written.
func (r *Response) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Size returns the number of body bytes written.
func (r *Response) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Done is closed once the response has been fully written.
func (r *Response) Done() <-chan struct{} { return r.done }

// send claims the response and runs fn with the raw writer. It returns false,
// without calling fn, when the response was already claimed or detached.
func (r *Response) send(status int, fn func(w http.ResponseWriter) (int64, error)) (bool, error) {
	r.mu.Lock()
	if r.claimed || r.detached {
		r.mu.Unlock()
		return false, nil
	}
	r.claimed = true
	r.status = status
	hooks := r.beforeWrite
	r.beforeWrite = nil
	r.mu.Unlock()

	defer r.complete()
	for _, fn := range hooks {
		fn(r.w.Header())
	}
	n, err := fn(r.w)

	r.mu.Lock()
	r.size = n
	r.mu.Unlock()
	return true, err
}

func (r *Response) complete() {
	r.finish.Do(func() { close(r.done) })
}

// detach is called when the client went away. It reports whether a write is
// in flight that the caller has to wait for.
func (r *Response) detach() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed {
		return true
	}
	r.detached = true
	return false
}

// Hijack takes over the connection for protocol upgrades. The response
// counts as written afterwards.
func (r *Response) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.mu.Lock()
	if r.claimed || r.detached {
		r.mu.Unlock()
		return nil, nil, http.ErrHijacked
	}
	hj, ok := r.w.(http.Hijacker)
	if !ok {
		r.mu.Unlock()
		return nil, nil, http.ErrNotSupported
	}
	r.claimed = true
	r.hijacked = true
	r.status = http.StatusSwitchingProtocols
	r.mu.Unlock()

	defer r.complete()
	return hj.Hijack()
}

// Unwrap returns the underlying writer for http.ResponseController.
func (r *Response) Unwrap() http.ResponseWriter { return r.w }

// hijackWriter exposes the guarded Hijack as an http.ResponseWriter so it can
// be handed to websocket.Container.Accept.
type hijackWriter struct {
	*Response
}

func (h hijackWriter) Write(p []byte) (int, error) { return 0, http.ErrHijacked }
func (h hijackWriter) WriteHeader(int)             {}
