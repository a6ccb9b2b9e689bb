package internal_test

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/internal"
)

// recorder collects the order middleware and actions ran in.
type recorder struct {
	steps []string
	mu    sync.Mutex
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.steps = append(r.steps, s)
	r.mu.Unlock()
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.steps, ",")
}

func step(rec *recorder, name string, flow internal.Flow) internal.MiddlewareFunc {
	return func(_ *internal.Request, _ *internal.Response, _ internal.NextFunc, _ map[string]any, _ *internal.Controller) internal.Flow {
		rec.add(name)
		return flow
	}
}

func TestMiddleware_Flow(t *testing.T) {
	t.Parallel()

	t.Run("proceed runs in order", func(t *testing.T) {
		t.Parallel()

		steps := &recorder{}
		app := newTestApp(t)
		app.Middleware("a", step(steps, "a", internal.Proceed))
		app.Middleware("b", step(steps, "b", internal.Proceed))
		app.Middleware("global", step(steps, "global", internal.Proceed))
		app.Use("global")
		app.GET("/", func(c *internal.Controller) error {
			steps.add("action")
			return c.Plain("ok")
		}, "#a", "#b")

		rec := serve(app, newRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "global,a,b,action", steps.String())
	})

	t.Run("halt stops the chain", func(t *testing.T) {
		t.Parallel()

		steps := &recorder{}
		app := newTestApp(t)
		app.Middleware("gate", func(_ *internal.Request, _ *internal.Response, _ internal.NextFunc, _ map[string]any, c *internal.Controller) internal.Flow {
			steps.add("gate")
			_ = c.Throw401(nil)
			return internal.Halt
		})
		app.Middleware("after", step(steps, "after", internal.Proceed))
		app.GET("/", func(c *internal.Controller) error {
			steps.add("action")
			return c.Plain("ok")
		}, "#gate", "#after")

		rec := serve(app, newRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "gate", steps.String())
	})

	t.Run("await continues when next is called later", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t)
		app.Middleware("async", func(_ *internal.Request, _ *internal.Response, next internal.NextFunc, _ map[string]any, c *internal.Controller) internal.Flow {
			go func() {
				time.Sleep(10 * time.Millisecond)
				c.Set("loaded", "from goroutine")
				next(nil)
				next(nil)
			}()
			return internal.Await
		})
		var calls int
		var mu sync.Mutex
		app.GET("/", func(c *internal.Controller) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return c.Plain(c.Get("loaded").(string))
		}, "#async")

		rec := serve(app, newRequest(http.MethodGet, "/", nil))
		require.Equal(t, "from goroutine", rec.Body.String())
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, 1, calls)
	})

	t.Run("proceed after calling next does not run twice", func(t *testing.T) {
		t.Parallel()

		steps := &recorder{}
		app := newTestApp(t)
		app.Middleware("eager", func(_ *internal.Request, _ *internal.Response, next internal.NextFunc, _ map[string]any, _ *internal.Controller) internal.Flow {
			next(nil)
			return internal.Proceed
		})
		app.GET("/", func(c *internal.Controller) error {
			steps.add("action")
			return c.Plain("ok")
		}, "#eager")

		serve(app, newRequest(http.MethodGet, "/", nil))
		require.Equal(t, "action", steps.String())
	})

	t.Run("next with error is a server error", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t)
		app.Middleware("fail", func(_ *internal.Request, _ *internal.Response, next internal.NextFunc, _ map[string]any, _ *internal.Controller) internal.Flow {
			next(errors.New("upstream unavailable"))
			return internal.Await
		})
		app.GET("/", plain("ok"), "#fail")

		rec := serve(app, newRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("panic is a server error", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t)
		app.Middleware("panic", func(*internal.Request, *internal.Response, internal.NextFunc, map[string]any, *internal.Controller) internal.Flow {
			panic("middleware exploded")
		})
		app.GET("/", plain("ok"), "#panic")

		rec := serve(app, newRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown middleware is skipped", func(t *testing.T) {
		t.Parallel()

		var logs bytes.Buffer
		app := newTestApp(t, internal.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
		app.GET("/", plain("ok"), "#missing")

		rec := serve(app, newRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok", rec.Body.String())
		require.Contains(t, logs.String(), `"level":"ERROR","msg":"middleware not found","middleware":"missing"`)
	})

	t.Run("route options reach middleware", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t)
		app.Middleware("opts", func(_ *internal.Request, res *internal.Response, _ internal.NextFunc, opts map[string]any, _ *internal.Controller) internal.Flow {
			res.Header().Set("X-Scope", opts["scope"].(string))
			return internal.Proceed
		})
		app.Handle("/", plain("ok"), []string{"#opts"}, 0, internal.WithRouteOptions(map[string]any{"scope": "admin"}))

		rec := serve(app, newRequest(http.MethodGet, "/", nil))
		require.Equal(t, "admin", rec.Header().Get("X-Scope"))
	})
}

func TestFlow_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "await", internal.Await.String())
	require.Equal(t, "proceed", internal.Proceed.String())
	require.Equal(t, "halt", internal.Halt.String())
	require.Equal(t, "unknown", internal.Flow(9).String())
}
