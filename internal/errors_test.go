package internal_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/internal"
)

func TestIsHTTPError(t *testing.T) {
	t.Parallel()

	t.Run("direct HTTPError", func(t *testing.T) {
		t.Parallel()
		err := internal.NewHTTPError(http.StatusNotFound, "not found")
		require.True(t, internal.IsHTTPError(err))
	})

	t.Run("double-wrapped HTTPError", func(t *testing.T) {
		t.Parallel()
		httpErr := internal.ErrForbidden("forbidden")
		err := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", httpErr))
		require.True(t, internal.IsHTTPError(err))
	})

	t.Run("unrelated error", func(t *testing.T) {
		t.Parallel()
		require.False(t, internal.IsHTTPError(errors.New("something went wrong")))
	})

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()
		require.False(t, internal.IsHTTPError(nil))
	})
}

func TestAsHTTPError(t *testing.T) {
	t.Parallel()

	t.Run("wrapped HTTPError preserves fields", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("row missing")
		err := fmt.Errorf("load: %w", internal.ErrNotFound("user not found", internal.WithError(cause)))

		got := internal.AsHTTPError(err)
		require.NotNil(t, got)
		require.Equal(t, http.StatusNotFound, got.StatusCode())
		require.Equal(t, "user not found", got.Error())
		require.ErrorIs(t, got, cause)
	})

	t.Run("empty message falls back to status text", func(t *testing.T) {
		t.Parallel()
		got := internal.ErrTooLarge("")
		require.Equal(t, http.StatusRequestHeaderFieldsTooLarge, got.Code)
		require.Equal(t, http.StatusText(http.StatusRequestHeaderFieldsTooLarge), got.Error())
	})

	t.Run("nil returns nil", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, internal.AsHTTPError(nil))
	})
}

func TestErrorRing(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.GET("/boom/{n}", func(c *internal.Controller) error {
		return fmt.Errorf("failure %s", c.Param("n"))
	})

	for i := range 55 {
		rec := serve(app, newRequest(http.MethodGet, fmt.Sprintf("/boom/%d", i), nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	entries := app.Errors()
	require.Len(t, entries, 50)
	require.Equal(t, "failure 5", entries[0].Error)
	require.Equal(t, "failure 54", entries[49].Error)
	require.Equal(t, "/boom/54", entries[49].URL)
}
