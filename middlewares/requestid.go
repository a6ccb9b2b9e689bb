package middlewares

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ndtt/trellis/internal"
	"github.com/ndtt/trellis/pkg/logger"
)

// RequestIDKey is the controller repository key holding the request ID.
const RequestIDKey = "request_id"

// DefaultRequestIDHeaders are the headers checked (in order) for an existing request ID.
var DefaultRequestIDHeaders = []string{"X-Request-ID", "X-Correlation-ID"}

// RequestIDConfig configures the request ID middleware.
type RequestIDConfig struct {
	Generator      func() string // ID generator function
	ResponseHeader string        // Response header name
	Headers        []string      // Headers to check for existing ID (in order)
}

// RequestIDOption configures RequestIDConfig.
type RequestIDOption func(*RequestIDConfig)

// WithRequestIDHeaders sets the headers to check for existing request IDs.
func WithRequestIDHeaders(headers ...string) RequestIDOption {
	return func(cfg *RequestIDConfig) {
		cfg.Headers = headers
	}
}

// WithRequestIDGenerator sets a custom ID generator function.
func WithRequestIDGenerator(gen func() string) RequestIDOption {
	return func(cfg *RequestIDConfig) {
		cfg.Generator = gen
	}
}

// WithRequestIDResponseHeader sets the response header name.
func WithRequestIDResponseHeader(header string) RequestIDOption {
	return func(cfg *RequestIDConfig) {
		cfg.ResponseHeader = header
	}
}

// RequestID returns middleware that assigns an ID to each request. An ID
// sent by the client in one of the configured headers is kept, otherwise a
// UUID is generated. The ID is echoed in the response header.
func RequestID(opts ...RequestIDOption) internal.MiddlewareFunc {
	cfg := &RequestIDConfig{
		Headers:        DefaultRequestIDHeaders,
		Generator:      uuid.NewString,
		ResponseHeader: "X-Request-ID",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(req *internal.Request, res *internal.Response, _ internal.NextFunc, _ map[string]any, c *internal.Controller) internal.Flow {
		// first match wins to preserve upstream tracing IDs
		var reqID string
		for _, header := range cfg.Headers {
			if v := req.Header.Get(header); v != "" {
				reqID = v
				break
			}
		}
		if reqID == "" {
			reqID = cfg.Generator()
		}

		c.Set(RequestIDKey, reqID)
		res.Header().Set(cfg.ResponseHeader, reqID)
		return internal.Proceed
	}
}

// GetRequestID returns the request ID, or "" when the middleware did not run.
func GetRequestID(c *internal.Controller) string {
	if v, ok := c.Get(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestIDExtractor returns a ContextExtractor adding "request_id" to log
// records written with a controller as context.
func RequestIDExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		c, ok := ctx.(*internal.Controller)
		if !ok {
			return slog.Attr{}, false
		}
		if v := GetRequestID(c); v != "" {
			return slog.String(RequestIDKey, v), true
		}
		return slog.Attr{}, false
	}
}
