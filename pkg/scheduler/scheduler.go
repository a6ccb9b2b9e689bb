// Package scheduler runs the framework's periodic jobs (cache recycle,
// WebSocket ping cycles, service ticks) on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrDuplicate = errors.New("scheduler: job already registered")

// Job is one periodic task.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner with named jobs and panic recovery.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
}

// New creates a stopped scheduler. Schedules accept the standard five
// field syntax and descriptors such as "@every 1m".
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Every is shorthand for an "@every" schedule.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add registers job under name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", spec, name, err)
	}
	s.entries[name] = id
	return nil
}

// Remove unregisters name. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Names lists registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	return names
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", slog.String("job", name), slog.Any("panic", r))
		}
	}()
	if err := job(s.ctx); err != nil {
		s.logger.Error("scheduled job failed", slog.String("job", name), slog.Any("error", err))
	}
}
