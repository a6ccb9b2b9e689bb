package internal_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ndtt/trellis/internal"
	"github.com/ndtt/trellis/pkg/config"
)

// testConfig is the default config without background jobs or public files.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.PingInterval = 0
	cfg.CacheSweepInterval = 0
	cfg.AllowGzip = false
	return cfg
}

func newTestApp(t *testing.T, opts ...internal.Option) *internal.App {
	t.Helper()

	app := internal.New(append([]internal.Option{internal.WithConfig(testConfig())}, opts...)...)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func newRequest(method, target string, body io.Reader) *http.Request {
	return httptest.NewRequest(method, target, body)
}

func serve(app *internal.App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func record(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
