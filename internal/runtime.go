package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ndtt/trellis/pkg/logger"
)

// runtimeConfig is what Run needs to serve: the handler built from the
// domains and the apps it has to start and stop.
type runtimeConfig struct {
	handler         http.Handler
	address         string
	logger          *slog.Logger
	shutdownTimeout time.Duration
	idleTimeout     time.Duration
	maxHeaderBytes  int
	startupHooks    []func(context.Context) error
	shutdownHooks   []func(context.Context) error
	domains         map[string]*App
	fallback        *App
	apps            []*App
	baseCtx         context.Context
}

// runServer starts the HTTP server and blocks until a signal, a stop
// message on one of the apps' buses, or a serve error.
func runServer(cfg runtimeConfig) error {
	if cfg.address == "" {
		cfg.address = ":8000"
	}
	if cfg.shutdownTimeout == 0 {
		cfg.shutdownTimeout = defaultShutdownTimeout
	}
	log := cfg.logger
	if log == nil {
		log = logger.NewNope()
	}

	baseCtx := cfg.baseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	sigCtx, cancel := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, stop := context.WithCancel(sigCtx)
	defer stop()

	server := &http.Server{
		Addr:              cfg.address,
		Handler:           cfg.handler,
		IdleTimeout:       cfg.idleTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		MaxHeaderBytes:    cfg.maxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	for _, app := range cfg.apps {
		unsubscribe, err := app.listen(stop)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", app.cfg.Name, err)
		}
		defer unsubscribe()
	}

	for _, hook := range cfg.startupHooks {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("startup hook: %w", err)
		}
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			log.Error("address already in use; stop the other process or pick another address",
				slog.String("address", server.Addr))
			return fmt.Errorf("%w: %s", ErrAddressInUse, server.Addr)
		}
		return err
	}

	for _, app := range cfg.apps {
		app.scheduler.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", slog.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(server, cfg, log)
	})
	return g.Wait()
}

// shutdown drains the server, then closes the apps and runs the hooks.
func shutdown(server *http.Server, cfg runtimeConfig, log *slog.Logger) error {
	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, app := range cfg.apps {
		if err := app.Close(ctx); err != nil {
			errs = append(errs, err)
			log.Error("app shutdown failed", slog.String("app", app.cfg.Name), slog.Any("error", err))
		}
	}
	for _, hook := range cfg.shutdownHooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
			log.Error("shutdown hook failed", slog.Any("error", err))
		}
	}

	if len(errs) > 0 {
		log.Error("shutdown completed with errors")
		return errors.Join(errs...)
	}
	log.Info("shutdown completed")
	return nil
}
