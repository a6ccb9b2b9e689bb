package internal_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/internal"
)

func TestSitemap(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	sm := app.Sitemap()
	sm.Add(internal.SitemapItem{ID: "home", Name: "Home", URL: "/"})
	sm.Add(internal.SitemapItem{ID: "docs", Name: "Docs", URL: "/docs", Parent: "home"})
	sm.Add(internal.SitemapItem{ID: "install", Name: "Install", URL: "/docs/install", Parent: "docs"})

	app.GET("#install", plain("install guide"))
	rec := serve(app, newRequest(http.MethodGet, "/docs/install", nil))
	require.Equal(t, "install guide", rec.Body.String())

	nav := sm.Navigation("install")
	require.Len(t, nav, 3)
	assert.Equal(t, "home", nav[0].ID)
	assert.Equal(t, "install", nav[2].ID)

	require.Panics(t, func() { app.GET("#missing", plain("x")) })
}

func TestSitemap_ParentCycle(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	sm := app.Sitemap()
	sm.Add(internal.SitemapItem{ID: "a", URL: "/a", Parent: "b"})
	sm.Add(internal.SitemapItem{ID: "b", URL: "/b", Parent: "a"})

	require.Len(t, sm.Navigation("a"), 2)
	require.Empty(t, sm.Navigation("unknown"))
}
