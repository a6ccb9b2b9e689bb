package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ndtt/trellis/pkg/cluster"
	"github.com/ndtt/trellis/pkg/config"
	"github.com/ndtt/trellis/pkg/scheduler"
)

// Names of the built-in scheduler jobs.
const (
	jobSocketPing   = "websocket.ping"
	jobCacheRecycle = "cache.recycle"
	jobCacheSave    = "cache.save"
)

type recycler interface {
	Recycle() int
}

type snapshotter interface {
	Save(w io.Writer) error
}

func (a *App) registerJobs() {
	if d := a.cfg.PingInterval; d > 0 {
		a.mustSchedule(jobSocketPing, scheduler.Every(d), func(context.Context) error {
			for _, c := range a.Sockets() {
				c.Cycle()
			}
			return nil
		})
	}
	if rc, ok := a.cache.(recycler); ok && a.cfg.CacheSweepInterval > 0 {
		a.mustSchedule(jobCacheRecycle, scheduler.Every(a.cfg.CacheSweepInterval), func(context.Context) error {
			if n := rc.Recycle(); n > 0 {
				a.stats.Recycled(n)
			}
			return nil
		})
	}
	if path := a.cfg.CacheSnapshot; path != "" && a.cfg.CacheSweepInterval > 0 {
		a.mustSchedule(jobCacheSave, scheduler.Every(a.cfg.CacheSweepInterval), func(context.Context) error {
			return a.saveCache(path)
		})
	}
}

func (a *App) mustSchedule(name, spec string, job scheduler.Job) {
	if err := a.scheduler.Add(name, spec, job); err != nil {
		panic(err)
	}
}

// saveCache writes the memory cache snapshot through a temp file so a crash
// never leaves a truncated snapshot behind.
func (a *App) saveCache(path string) error {
	s, ok := a.cache.(snapshotter)
	if !ok {
		return nil
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	if err := s.Save(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return os.Rename(f.Name(), path)
}

// Broadcast publishes a process message to every process sharing the bus,
// this one included.
//
// Example:
//
//	app.Broadcast(ctx, cluster.Reset, nil)
func (a *App) Broadcast(ctx context.Context, kind cluster.Kind, data any) error {
	m := cluster.Message{Kind: kind, Origin: a.origin}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("broadcast %s: %w", kind, err)
		}
		m.Data = raw
	}
	return a.bus.Publish(ctx, m)
}

// listen subscribes the app to the bus; stop is called for stop and exit
// messages.
func (a *App) listen(stop func()) (func(), error) {
	return a.bus.Subscribe(func(ctx context.Context, m cluster.Message) {
		a.handleMessage(ctx, m, stop)
	})
}

func (a *App) handleMessage(ctx context.Context, m cluster.Message, stop func()) {
	log := a.logger.With("kind", string(m.Kind), "origin", m.Origin)

	switch m.Kind {
	case cluster.Reconnect:
		log.InfoContext(ctx, "reconnect requested")

	case cluster.Reconfigure:
		if err := a.reconfigure(); err != nil {
			log.ErrorContext(ctx, "reconfigure failed", "error", err)
			return
		}
		log.InfoContext(ctx, "configuration reloaded")

	case cluster.Reset:
		if err := a.cache.Clear(ctx); err != nil {
			log.WarnContext(ctx, "cache clear failed", "error", err)
		}
		a.routes.Sort()
		a.sockets.Sort()
		log.InfoContext(ctx, "reset")

	case cluster.Debugging:
		var on bool
		if len(m.Data) > 0 {
			if err := json.Unmarshal(m.Data, &on); err != nil {
				log.WarnContext(ctx, "invalid debugging payload", "error", err)
				return
			}
		} else {
			on = !a.Debug()
		}
		a.mu.Lock()
		a.cfg.Debug = on
		a.mu.Unlock()
		log.InfoContext(ctx, "debug mode changed", "debug", on)

	case cluster.Stop, cluster.Exit:
		log.InfoContext(ctx, "shutdown requested")
		if stop != nil {
			stop()
		}
	}
}

// reconfigure reloads the config file. Route tables keep their defaults;
// the new values apply to request handling and later registrations.
func (a *App) reconfigure() error {
	if a.configPath == "" {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return nil
}
