package internal

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrInvalidRoute is wrapped by every route registration failure.
	ErrInvalidRoute = errors.New("trellis: invalid route")

	// ErrAddressInUse is returned by Run when the listen address is taken.
	ErrAddressInUse = errors.New("trellis: address already in use")

	// ErrTimeout is the cancel cause of a controller whose route timed out.
	ErrTimeout = errors.New("trellis: request timeout")

	// ErrCanceled is returned by primitives called on a finished controller.
	ErrCanceled = errors.New("trellis: controller canceled")

	// ErrUnknownModule is returned when uninstalling a module that is not installed.
	ErrUnknownModule = errors.New("trellis: module not installed")
)

// HTTPError is a client facing failure. Returned from an action it resolves
// to the "#code" system route, or the built-in status response.
type HTTPError struct {
	// Err is the underlying error, logged but never sent.
	Err error

	// Message is shown after the status line in debug mode.
	Message string

	Code int
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func (e *HTTPError) StatusCode() int {
	return e.Code
}

func (e *HTTPError) StatusText() string {
	return http.StatusText(e.Code)
}

// HTTPErrorOption configures an HTTPError.
type HTTPErrorOption func(*HTTPError)

func WithError(err error) HTTPErrorOption {
	return func(e *HTTPError) {
		e.Err = err
	}
}

// NewHTTPError creates an HTTPError with the given status code and message.
func NewHTTPError(code int, message string, opts ...HTTPErrorOption) *HTTPError {
	e := &HTTPError{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Convenience constructors for the statuses that have system routes.

func ErrBadRequest(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, message, opts...)
}

func ErrUnauthorized(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusUnauthorized, message, opts...)
}

func ErrForbidden(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusForbidden, message, opts...)
}

func ErrNotFound(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusNotFound, message, opts...)
}

func ErrRequestTimeout(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusRequestTimeout, message, opts...)
}

func ErrTooLarge(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusRequestHeaderFieldsTooLarge, message, opts...)
}

func ErrInternal(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusInternalServerError, message, opts...)
}

func ErrNotImplemented(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusNotImplemented, message, opts...)
}

// IsHTTPError reports whether err wraps an HTTPError.
func IsHTTPError(err error) bool {
	return AsHTTPError(err) != nil
}

// AsHTTPError extracts the HTTPError from an error chain.
// Returns nil if there is none.
func AsHTTPError(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return nil
}

// ErrorEntry is one recorded server error.
type ErrorEntry struct {
	Date  time.Time `json:"date"`
	Error string    `json:"error"`
	Name  string    `json:"name,omitempty"`
	URL   string    `json:"url,omitempty"`
}

// errorRingSize is how many server errors the app remembers.
const errorRingSize = 50

// errorRing keeps the most recent server errors, oldest evicted first.
type errorRing struct {
	entries []ErrorEntry
	mu      sync.Mutex
}

func (r *errorRing) push(e ErrorEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == errorRingSize {
		r.entries = append(r.entries[:0], r.entries[1:]...)
	}
	r.entries = append(r.entries, e)
}

func (r *errorRing) list() []ErrorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
