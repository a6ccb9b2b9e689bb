package internal_test

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/internal"
)

func TestExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ext     internal.Extractor
		prepare func(r *http.Request)
		want    string
	}{
		{
			name: "no sources",
			ext:  internal.NewExtractor(),
			want: "|false",
		},
		{
			name: "first source wins",
			ext:  internal.NewExtractor(internal.FromHeader("X-First"), internal.FromHeader("X-Second")),
			prepare: func(r *http.Request) {
				r.Header.Set("X-First", "one")
				r.Header.Set("X-Second", "two")
			},
			want: "one|true",
		},
		{
			name:    "falls through on a miss",
			ext:     internal.NewExtractor(internal.FromHeader("X-First"), internal.FromQuery("token")),
			prepare: func(r *http.Request) { r.URL.RawQuery = "token=q" },
			want:    "q|true",
		},
		{
			name:    "cookie",
			ext:     internal.NewExtractor(internal.FromCookie("session")),
			prepare: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: "abc"}) },
			want:    "abc|true",
		},
		{
			name:    "bearer is case insensitive",
			ext:     internal.NewExtractor(internal.FromBearerToken()),
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "bEaReR tok") },
			want:    "tok|true",
		},
		{
			name:    "bearer without a token",
			ext:     internal.NewExtractor(internal.FromBearerToken()),
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") },
			want:    "|false",
		},
		{
			name:    "basic scheme is not bearer",
			ext:     internal.NewExtractor(internal.FromBearerToken()),
			prepare: func(r *http.Request) { r.SetBasicAuth("ann", "pw") },
			want:    "|false",
		},
		{
			name:    "basic user",
			ext:     internal.NewExtractor(internal.FromBasicUser()),
			prepare: func(r *http.Request) { r.SetBasicAuth("ann", "pw") },
			want:    "ann|true",
		},
		{
			name: "empty header is a miss",
			ext:  internal.NewExtractor(internal.FromHeader("X-Empty"), internal.FromHeader("X-Full")),
			prepare: func(r *http.Request) {
				r.Header.Set("X-Empty", "")
				r.Header.Set("X-Full", "full")
			},
			want: "full|true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newTestApp(t)
			app.GET("/", func(c *internal.Controller) error {
				v, ok := tt.ext.Extract(c.Request())
				return c.Plain(v + "|" + strconv.FormatBool(ok))
			})

			req := newRequest(http.MethodGet, "/", nil)
			if tt.prepare != nil {
				tt.prepare(req)
			}
			rec := serve(app, req)
			require.Equal(t, tt.want, rec.Body.String())
		})
	}
}
