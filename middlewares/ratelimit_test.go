package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/internal"
	"github.com/ndtt/trellis/middlewares"
)

func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("rejects past the burst", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t)
		app.Middleware("limit", middlewares.RateLimit(0.01, 2))
		app.GET("/", func(c *internal.Controller) error { return c.Plain("ok") }, "#limit")

		for range 2 {
			rec := serve(app, httptest.NewRequest(http.MethodGet, "/", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		rec := serve(app, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("limits per key", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t)
		app.Middleware("limit", middlewares.RateLimit(0.01, 1, middlewares.WithRateLimitKey(func(r *internal.Request) string {
			return r.Header.Get("X-Client")
		})))
		app.GET("/", func(c *internal.Controller) error { return c.Plain("ok") }, "#limit")

		for _, client := range []string{"a", "b"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Client", client)
			require.Equal(t, http.StatusOK, serve(app, req).Code)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Client", "a")
		require.Equal(t, http.StatusTooManyRequests, serve(app, req).Code)
	})
}
