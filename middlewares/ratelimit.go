package middlewares

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ndtt/trellis/internal"
)

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	Key   func(req *internal.Request) string // Client key, the client IP by default
	Rate  rate.Limit                         // Sustained requests per second
	Burst int                                // Requests allowed at once
	TTL   time.Duration                      // Idle time after which a client's limiter is dropped
}

// RateLimitOption configures RateLimitConfig.
type RateLimitOption func(*RateLimitConfig)

// WithRateLimitKey sets how clients are told apart.
func WithRateLimitKey(fn func(req *internal.Request) string) RateLimitOption {
	return func(cfg *RateLimitConfig) {
		if fn != nil {
			cfg.Key = fn
		}
	}
}

// WithRateLimitTTL sets how long an idle client's limiter is kept.
// Default: 10 minutes.
func WithRateLimitTTL(d time.Duration) RateLimitOption {
	return func(cfg *RateLimitConfig) {
		if d > 0 {
			cfg.TTL = d
		}
	}
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

type limiters struct {
	cfg     RateLimitConfig
	clients map[string]*visitor
	swept   time.Time
	mu      sync.Mutex
}

func (l *limiters) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.cfg.TTL {
		for k, v := range l.clients {
			if now.Sub(v.seen) > l.cfg.TTL {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	v, ok := l.clients[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.clients[key] = v
	}
	v.seen = now
	return v.limiter
}

// RateLimit returns middleware allowing each client perSecond requests per
// second with bursts of burst. Rejected requests get 429 with Retry-After.
//
//	app.Middleware("limit", middlewares.RateLimit(5, 10))
//	app.POST("/api/login", login, "json", "#limit")
func RateLimit(perSecond float64, burst int, opts ...RateLimitOption) internal.MiddlewareFunc {
	cfg := RateLimitConfig{
		Key:   func(req *internal.Request) string { return req.IP() },
		Rate:  rate.Limit(perSecond),
		Burst: max(burst, 1),
		TTL:   10 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	l := &limiters{cfg: cfg, clients: make(map[string]*visitor), swept: time.Now()}

	return func(req *internal.Request, res *internal.Response, _ internal.NextFunc, _ map[string]any, c *internal.Controller) internal.Flow {
		now := time.Now()
		r := l.get(cfg.Key(req), now).ReserveN(now, 1)
		if !r.OK() {
			return reject(res, c, time.Second)
		}
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			return reject(res, c, d)
		}
		return internal.Proceed
	}
}

func reject(res *internal.Response, c *internal.Controller, retry time.Duration) internal.Flow {
	res.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
	c.SetStatus(http.StatusTooManyRequests)
	_ = c.Plain(http.StatusText(http.StatusTooManyRequests))
	return internal.Halt
}
