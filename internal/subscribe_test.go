package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/internal"
	"github.com/ndtt/trellis/pkg/schema"
)

func jsonRequest(method, target, body string) *http.Request {
	req := newRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSubscribe_AtMostOnce(t *testing.T) {
	t.Parallel()

	second := make(chan error, 1)
	app := newTestApp(t)
	app.GET("/", func(c *internal.Controller) error {
		assert.NoError(t, c.Plain("first"))
		second <- c.Plain("second")
		return nil
	})

	rec := serve(app, newRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "first", rec.Body.String())
	require.ErrorIs(t, <-second, internal.ErrCanceled)
}

func TestSubscribe_LaterPrimitivesAreNoOps(t *testing.T) {
	t.Parallel()

	var notFound, serverError atomic.Int32
	results := make(chan []error, 1)

	app := newTestApp(t)
	app.Route("#404", func(c *internal.Controller) error {
		notFound.Add(1)
		return c.Plain("missing")
	})
	app.Route("#500", func(c *internal.Controller) error {
		serverError.Add(1)
		return c.Plain("broken")
	})
	app.GET("/", func(c *internal.Controller) error {
		assert.NoError(t, c.Plain("first"))
		results <- []error{
			c.Redirect("/x", false),
			c.JSON(map[string]int{"n": 1}),
			c.Throw404(nil),
			c.Throw500(errors.New("late failure")),
		}
		assert.True(t, c.IsCanceled())
		assert.False(t, c.Transfer("/"))
		return errors.New("returned after responding")
	})

	rec := serve(app, newRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "first", rec.Body.String())
	require.Empty(t, rec.Header().Get("Location"))

	for _, err := range <-results {
		assert.ErrorIs(t, err, internal.ErrCanceled)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, notFound.Load())
	assert.Zero(t, serverError.Load())
	assert.Empty(t, app.Errors())
}

func TestSubscribe_BodyLimit(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.Handle("/data", func(c *internal.Controller) error {
		return c.Plain(c.Body().(string))
	}, []string{"post", "raw"}, 10)

	t.Run("exactly the limit is accepted", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, newRequest(http.MethodPost, "/data", strings.NewReader("0123456789")))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "0123456789", rec.Body.String())
	})

	t.Run("one byte over is rejected", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, newRequest(http.MethodPost, "/data", strings.NewReader("0123456789X")))
		require.Equal(t, http.StatusRequestHeaderFieldsTooLarge, rec.Code)
		require.Equal(t, "431: Request Header Fields Too Large", rec.Body.String())
	})
}

func TestSubscribe_Body(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, internal.WithDebug(true))
	app.POST("/json", func(c *internal.Controller) error {
		var in struct {
			Name string `json:"name"`
		}
		if err := c.Bind(&in); err != nil {
			return err
		}
		return c.JSON(map[string]string{"hello": in.Name})
	}, "json")
	app.POST("/form", func(c *internal.Controller) error {
		return c.Plain(c.Body().(interface{ Get(string) string }).Get("q"))
	})
	app.POST("/xml", func(c *internal.Controller) error {
		return c.Plain(c.Body().(map[string]string)["order.item[sku]"])
	}, "xml")

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, jsonRequest(http.MethodPost, "/json", `{"name":"Ada"}`))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"hello":"Ada"}`, rec.Body.String())
		require.Equal(t, "private, no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, jsonRequest(http.MethodPost, "/json", `{"name":`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "Invalid JSON data.")
	})

	t.Run("missing content type", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, newRequest(http.MethodPost, "/form", strings.NewReader("q=1")))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), `Invalid "Content-Type".`)
	})

	t.Run("form", func(t *testing.T) {
		t.Parallel()
		req := newRequest(http.MethodPost, "/form", strings.NewReader("q=trellis"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := serve(app, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "trellis", rec.Body.String())
	})

	t.Run("xml", func(t *testing.T) {
		t.Parallel()
		req := newRequest(http.MethodPost, "/xml", strings.NewReader(`<order><item sku="A-1">x</item></order>`))
		req.Header.Set("Content-Type", "application/xml")
		rec := serve(app, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "A-1", rec.Body.String())
	})

	t.Run("xml route rejects json", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, jsonRequest(http.MethodPost, "/xml", `{}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unrouted body request is forbidden", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, jsonRequest(http.MethodPut, "/nowhere", `{}`))
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Empty(t, rec.Body.String())
	})
}

func TestSubscribe_Timeout(t *testing.T) {
	t.Parallel()

	t.Run("slow action gets 408", func(t *testing.T) {
		t.Parallel()

		late := make(chan error, 1)
		app := newTestApp(t)
		app.Handle("/slow", func(c *internal.Controller) error {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-c.Done():
			}
			assert.True(t, c.IsTimeout())
			assert.ErrorIs(t, context.Cause(c), internal.ErrTimeout)
			late <- c.Plain("too late")
			return nil
		}, nil, 0, internal.WithTimeout(50*time.Millisecond))

		start := time.Now()
		rec := serve(app, newRequest(http.MethodGet, "/slow", nil))
		require.Equal(t, http.StatusRequestTimeout, rec.Code)
		require.Less(t, time.Since(start), 200*time.Millisecond)
		require.ErrorIs(t, <-late, internal.ErrCanceled)
	})

	t.Run("fast action completes", func(t *testing.T) {
		t.Parallel()

		var timeouts atomic.Int32
		app := newTestApp(t)
		app.Route("#408", func(c *internal.Controller) error {
			timeouts.Add(1)
			return c.Plain("took too long")
		})
		app.Handle("/fast", func(c *internal.Controller) error {
			time.Sleep(10 * time.Millisecond)
			return c.Plain("done")
		}, nil, 0, internal.WithTimeout(50*time.Millisecond))

		rec := serve(app, newRequest(http.MethodGet, "/fast", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "done", rec.Body.String())

		time.Sleep(100 * time.Millisecond)
		require.Zero(t, timeouts.Load())
	})

	t.Run("custom 408 route", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t)
		app.Route("#408", func(c *internal.Controller) error {
			assert.ErrorIs(t, c.Exception(), internal.ErrTimeout)
			return c.Plain("took too long")
		})
		app.Handle("/slow", func(c *internal.Controller) error {
			<-c.Done()
			return nil
		}, nil, 0, internal.WithTimeout(20*time.Millisecond))

		rec := serve(app, newRequest(http.MethodGet, "/slow", nil))
		require.Equal(t, http.StatusRequestTimeout, rec.Code)
		require.Equal(t, "took too long", rec.Body.String())
	})
}

func TestSubscribe_ClientGone(t *testing.T) {
	t.Parallel()

	cause := make(chan error, 1)
	app := newTestApp(t)
	app.GET("/wait", func(c *internal.Controller) error {
		<-c.Done()
		cause <- context.Cause(c)
		return nil
	}, "delay")

	ctx, cancel := context.WithCancel(context.Background())
	req := newRequest(http.MethodGet, "/wait", nil).WithContext(ctx)
	time.AfterFunc(20*time.Millisecond, cancel)
	serve(app, req)

	select {
	case err := <-cause:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("action was not canceled")
	}
}

func TestSubscribe_Errors(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.GET("/missing", func(c *internal.Controller) error {
		return internal.ErrNotFound("no such thing")
	})
	app.GET("/broken", func(c *internal.Controller) error {
		return errors.New("database down")
	})
	app.GET("/panic", func(c *internal.Controller) error {
		panic("boom")
	})
	app.GET("/forbidden", func(c *internal.Controller) error {
		return c.Throw403(nil)
	})
	app.Route("#403", func(c *internal.Controller) error { return c.Plain("go away") })

	tests := []struct {
		target string
		code   int
		body   string
	}{
		{"/missing", http.StatusNotFound, "404: Not Found"},
		{"/broken", http.StatusInternalServerError, "500: Internal Server Error"},
		{"/panic", http.StatusInternalServerError, "500: Internal Server Error"},
		{"/forbidden", http.StatusForbidden, "go away"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			t.Parallel()
			rec := serve(app, newRequest(http.MethodGet, tt.target, nil))
			require.Equal(t, tt.code, rec.Code)
			require.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestSubscribe_SystemRouteThrow(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.Route("#500", func(c *internal.Controller) error { panic("500 route broken") })
	app.Route("#404", func(c *internal.Controller) error { return c.Throw404(nil) })
	app.GET("/broken", func(c *internal.Controller) error { return errors.New("x") })

	rec := serve(app, newRequest(http.MethodGet, "/broken", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "500: Internal Server Error", rec.Body.String())

	rec = serve(app, newRequest(http.MethodGet, "/nothing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "404: Not Found", rec.Body.String())
}

func TestSubscribe_Authorize(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, internal.WithAuthorize(func(r *internal.Request, roles internal.RoleGranter) (bool, any) {
		switch r.Header.Get("X-Token") {
		case "admin":
			roles.AddRole("admin")
			return true, "root"
		case "user":
			return true, "alice"
		}
		return false, nil
	}))
	app.GET("/me", func(c *internal.Controller) error {
		return c.Plain("hello " + c.User().(string))
	}, "authorize")
	app.GET("/login", plain("login form"), "unauthorize")
	app.GET("/admin", plain("admin area"), "authorize", "@admin")
	app.GET("/public", func(c *internal.Controller) error {
		if c.IsAuthorized() {
			return c.Plain("member")
		}
		return c.Plain("guest")
	})

	tests := []struct {
		name   string
		token  string
		target string
		code   int
		body   string
	}{
		{"authorized user", "user", "/me", http.StatusOK, "hello alice"},
		{"anonymous on private route", "", "/me", http.StatusUnauthorized, "401: Unauthorized"},
		{"anonymous login", "", "/login", http.StatusOK, "login form"},
		{"user on guest-only route", "user", "/login", http.StatusNotFound, "404: Not Found"},
		{"role granted", "admin", "/admin", http.StatusOK, "admin area"},
		{"role missing", "user", "/admin", http.StatusNotFound, "404: Not Found"},
		{"public anonymous", "", "/public", http.StatusOK, "guest"},
		{"public member", "user", "/public", http.StatusOK, "member"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := newRequest(http.MethodGet, tt.target, nil)
			if tt.token != "" {
				req.Header.Set("X-Token", tt.token)
			}
			rec := serve(app, req)
			require.Equal(t, tt.code, rec.Code)
			require.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestSubscribe_UserAuthorize(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, internal.WithUserAuthorize(func(r *internal.Request, _ internal.RoleGranter) any {
		if user, ok := internal.NewExtractor(internal.FromBearerToken()).Extract(r); ok {
			return user
		}
		return nil
	}))
	app.GET("/me", func(c *internal.Controller) error { return c.Plain(c.User().(string)) }, "authorize")

	req := newRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer bob")
	require.Equal(t, "bob", serve(app, req).Body.String())
	require.Equal(t, http.StatusUnauthorized, serve(app, newRequest(http.MethodGet, "/me", nil)).Code)
}

func TestSubscribe_Schema(t *testing.T) {
	t.Parallel()

	reg := schema.NewRegistry()
	reg.MustAdd("Users", "Create", []byte(`{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 2}}
	}`))

	app := newTestApp(t, internal.WithSchemas(reg))
	app.POST("/users", func(c *internal.Controller) error {
		assert.True(t, c.IsSchema())
		return c.JSON(c.Body())
	}, "json", "*Users/Create")
	app.DELETE("/users", plain("deleted"), "json", "*Users/Create")

	t.Run("valid body", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, jsonRequest(http.MethodPost, "/users", `{"name":"Ada"}`))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"name":"Ada"}`, rec.Body.String())
	})

	t.Run("invalid body returns field errors", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, jsonRequest(http.MethodPost, "/users", `{"name":"A"}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

		var errs []schema.FieldError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errs))
		require.Len(t, errs, 1)
		assert.Equal(t, "name", errs[0].Name)
	})

	t.Run("delete skips validation", func(t *testing.T) {
		t.Parallel()
		rec := serve(app, jsonRequest(http.MethodDelete, "/users", `{}`))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown schema panics at registration", func(t *testing.T) {
		t.Parallel()
		require.Panics(t, func() { app.POST("/other", plain("x"), "json", "*Users/Missing") })
	})
}

func TestSubscribe_Upload(t *testing.T) {
	t.Parallel()

	var path string
	app := newTestApp(t)
	app.POST("/upload", func(c *internal.Controller) error {
		files := c.Files()
		if len(files) != 1 {
			return c.Throw400(nil)
		}
		path = files[0].Path

		f, err := files[0].Open()
		if err != nil {
			return err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}

		title := c.Body().(interface{ Get(string) string }).Get("title")
		return c.Plain(title + ":" + files[0].Filename + ":" + string(data))
	}, "upload")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "report"))
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := newRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(app, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "report:notes.txt:hello", rec.Body.String())

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSubscribe_Transfer(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.GET("/old", func(c *internal.Controller) error {
		if !c.Transfer("/new") {
			return c.Throw404(nil)
		}
		return nil
	})
	app.GET("/new", func(c *internal.Controller) error {
		if c.IsTransfer() {
			return c.Plain("transferred")
		}
		return c.Plain("direct")
	})

	require.Equal(t, "transferred", serve(app, newRequest(http.MethodGet, "/old", nil)).Body.String())
	require.Equal(t, "direct", serve(app, newRequest(http.MethodGet, "/new", nil)).Body.String())
}

func TestSubscribe_PauseAndGate(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.GET("/", plain("ok"))

	app.Pause()
	require.Equal(t, http.StatusServiceUnavailable, serve(app, newRequest(http.MethodGet, "/", nil)).Code)
	app.Resume()
	require.Equal(t, http.StatusOK, serve(app, newRequest(http.MethodGet, "/", nil)).Code)

	req := newRequest(http.MethodGet, "/", nil)
	req.Host = ""
	require.Equal(t, http.StatusBadRequest, serve(app, req).Code)
}
