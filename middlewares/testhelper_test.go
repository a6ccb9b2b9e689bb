package middlewares_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ndtt/trellis/internal"
)

func newTestApp(t *testing.T, opts ...internal.Option) *internal.App {
	t.Helper()

	app := internal.New(opts...)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func serve(app *internal.App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}
