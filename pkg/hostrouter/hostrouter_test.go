package hostrouter_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ndtt/trellis/pkg/hostrouter"
)

func named(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(name))
	})
}

func TestRouter(t *testing.T) {
	t.Parallel()

	r := hostrouter.New(map[string]http.Handler{
		"api.example.com": named("api"),
		"*.example.com":   named("tenant"),
		"":                named("ignored"),
	}, named("fallback"))

	tests := []struct {
		host string
		want string
	}{
		{"api.example.com", "api"},
		{"API.example.com:8080", "api"},
		{"acme.example.com", "tenant"},
		{"example.com", "fallback"},
		{"other.org", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestRouter_NilFallback(t *testing.T) {
	t.Parallel()

	r := hostrouter.New(nil, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", hostrouter.Normalize("Example.COM:8080"))
	assert.Equal(t, "example.com", hostrouter.Normalize("example.com"))
	assert.Equal(t, "[::1]", hostrouter.Normalize("[::1]:8080"))
}

func TestSubdomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host, base, want string
	}{
		{"api.eu.example.com", "", "api.eu"},
		{"www.example.com:8000", "", "www"},
		{"example.com", "", ""},
		{"localhost:8000", "", ""},
		{"127.0.0.1:8000", "", ""},
		{"[::1]:8000", "", ""},
		{"api.eu.example.com", "eu.example.com", "api"},
		{"eu.example.com", "eu.example.com", ""},
		{"api.other.com", "example.com", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hostrouter.Subdomain(tt.host, tt.base), tt.host)
	}
}
