// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	defaultTimeout = 5 * time.Second
)

// CheckFunc reports the state of one dependency.
type CheckFunc func(ctx context.Context) error

// Report is the readiness payload.
type Report struct {
	Checks map[string]Result `json:"checks,omitempty"`
	Status string            `json:"status"`
}

// Result is the outcome of a single check.
type Result struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Checker holds named readiness checks. The zero value is not usable; use New.
type Checker struct {
	checks  map[string]CheckFunc
	logger  *slog.Logger
	timeout time.Duration
	mu      sync.RWMutex
}

// New creates a Checker. A zero timeout means 5 seconds.
func New(logger *slog.Logger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{checks: make(map[string]CheckFunc), logger: logger, timeout: timeout}
}

// Add registers or replaces a check.
func (c *Checker) Add(name string, fn CheckFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.checks[name] = fn
	c.mu.Unlock()
}

// Run executes all checks in parallel.
func (c *Checker) Run(ctx context.Context) *Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	if len(checks) == 0 {
		return &Report{Status: StatusHealthy}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rep := &Report{Status: StatusHealthy, Checks: make(map[string]Result, len(checks))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Go(func() {
			res := Result{Status: StatusHealthy}
			if err := fn(ctx); err != nil {
				res = Result{Status: StatusUnhealthy, Error: err.Error()}
				c.logger.WarnContext(ctx, "health check failed", slog.String("check", name), slog.Any("error", err))
			}
			mu.Lock()
			rep.Checks[name] = res
			if res.Status == StatusUnhealthy {
				rep.Status = StatusUnhealthy
			}
			mu.Unlock()
		})
	}
	wg.Wait()
	return rep
}

// Live always answers OK while the process runs.
func (c *Checker) Live(w http.ResponseWriter, r *http.Request) {
	write(w, r, http.StatusOK, &Report{Status: StatusHealthy})
}

// Ready answers 503 when any check fails.
func (c *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	rep := c.Run(r.Context())
	code := http.StatusOK
	if rep.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	write(w, r, code, rep)
}

func write(w http.ResponseWriter, r *http.Request, code int, rep *Report) {
	if r.URL.Query().Get("format") == "json" || strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	if code == http.StatusOK {
		_, _ = w.Write([]byte("OK"))
		return
	}
	_, _ = w.Write([]byte("Service Unavailable"))
}
