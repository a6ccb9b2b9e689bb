package internal_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/internal"
	"github.com/ndtt/trellis/pkg/cluster"
)

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("stop message ends the server", func(t *testing.T) {
		t.Parallel()

		app := internal.New(internal.WithConfig(testConfig()))
		var closed bool
		err := internal.Run(
			internal.Fallback(app),
			internal.Address("127.0.0.1:0"),
			internal.StartupHook(func(ctx context.Context) error {
				return app.Broadcast(ctx, cluster.Stop, nil)
			}),
			internal.ShutdownHook(func(context.Context) error {
				closed = true
				return nil
			}),
		)
		require.NoError(t, err)
		require.True(t, closed)
	})

	t.Run("canceled base context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		app := internal.New(internal.WithConfig(testConfig()))
		err := app.Run(internal.Address("127.0.0.1:0"), internal.WithContext(ctx))
		require.NoError(t, err)
	})

	t.Run("address in use", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		app := newTestApp(t)
		err = app.Run(internal.Address(ln.Addr().String()))
		require.ErrorIs(t, err, internal.ErrAddressInUse)
	})

	t.Run("startup hook error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		app := newTestApp(t)
		err := app.Run(
			internal.Address("127.0.0.1:0"),
			internal.StartupHook(func(context.Context) error { return boom }),
		)
		require.ErrorIs(t, err, boom)
	})

	t.Run("nothing to serve", func(t *testing.T) {
		t.Parallel()
		require.Error(t, internal.Run(internal.Address("127.0.0.1:0")))
	})
}
