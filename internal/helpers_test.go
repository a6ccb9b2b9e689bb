package internal_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/internal"
)

type userID int

func TestParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		get    func(c *internal.Controller) any
		want   any
	}{
		{"string", "/items/abc", func(c *internal.Controller) any { return internal.Param[string](c, "id") }, "abc"},
		{"int", "/items/42", func(c *internal.Controller) any { return internal.Param[int](c, "id") }, 42},
		{"int64", "/items/9000000000", func(c *internal.Controller) any { return internal.Param[int64](c, "id") }, int64(9000000000)},
		{"float64", "/items/2.5", func(c *internal.Controller) any { return internal.Param[float64](c, "id") }, 2.5},
		{"bool", "/items/true", func(c *internal.Controller) any { return internal.Param[bool](c, "id") }, true},
		{"named type", "/items/7", func(c *internal.Controller) any { return internal.Param[userID](c, "id") }, userID(7)},
		{"invalid int is zero", "/items/abc", func(c *internal.Controller) any { return internal.Param[int](c, "id") }, 0},
		{"missing param is zero", "/items/1", func(c *internal.Controller) any { return internal.Param[string](c, "nope") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got any
			app := newTestApp(t)
			app.GET("/items/{id}", func(c *internal.Controller) error {
				got = tt.get(c)
				return c.Empty()
			})

			rec := serve(app, newRequest(http.MethodGet, tt.target, nil))
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestQuery(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.GET("/search", func(c *internal.Controller) error {
		return c.Plain(fmt.Sprintf("%s|%d|%v|%d|%d",
			internal.Query[string](c, "q"),
			internal.Query[int](c, "page"),
			internal.Query[bool](c, "exact"),
			internal.QueryDefault(c, "limit", 20),
			internal.QueryDefault(c, "offset", 5),
		))
	})

	rec := serve(app, newRequest(http.MethodGet, "/search?q=go&page=3&exact=1&offset=x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "go|3|true|20|5", rec.Body.String())
}
