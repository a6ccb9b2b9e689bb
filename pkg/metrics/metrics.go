// Package metrics exposes request, response and WebSocket counters for
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request kinds counted by Request.
const (
	KindRequest   = "request"
	KindGet       = "get"
	KindBody      = "body"
	KindUpload    = "upload"
	KindJSON      = "json"
	KindXML       = "xml"
	KindSchema    = "schema"
	KindBlocked   = "blocked"
	KindWebSocket = "websocket"
	KindStatic    = "static"
	KindMobile    = "mobile"
	KindRobot     = "robot"
	KindXHR       = "xhr"
)

// Stats owns a private registry so several apps can run in one process.
type Stats struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inflight  prometheus.Gauge
	online    *prometheus.GaugeVec
	frames    *prometheus.CounterVec
	errors    prometheus.Counter
	timeouts  prometheus.Counter
	recycled  prometheus.Counter
}

// New registers the framework collectors under namespace plus Go runtime
// and process collectors.
func New(namespace string) *Stats {
	if namespace == "" {
		namespace = "trellis"
	}
	s := &Stats{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total", Help: "Incoming requests by kind.",
		}, []string{"kind"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "responses_total", Help: "Responses by status code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds", Help: "Time from arrival to response by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "requests_in_flight", Help: "Requests being processed.",
		}),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_online", Help: "Open WebSocket connections by endpoint.",
		}, []string{"endpoint"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_messages_total", Help: "WebSocket messages by direction.",
		}, []string{"direction"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Server errors recorded.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "timeouts_total", Help: "Requests ended by their timeout.",
		}),
		recycled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_recycled_total", Help: "Expired cache entries removed by the sweep.",
		}),
	}

	s.registry.MustRegister(
		s.requests, s.responses, s.duration, s.inflight, s.online,
		s.frames, s.errors, s.timeouts, s.recycled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Registry returns the underlying registry, for custom collectors.
func (s *Stats) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus text format.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func (s *Stats) Request(kind string) { s.requests.WithLabelValues(kind).Inc() }

func (s *Stats) Response(code int) { s.responses.WithLabelValues(strconv.Itoa(code)).Inc() }

func (s *Stats) Observe(route string, d time.Duration) {
	s.duration.WithLabelValues(route).Observe(d.Seconds())
}

// Begin marks a request in flight and returns the matching end func.
func (s *Stats) Begin() func() {
	s.inflight.Inc()
	return s.inflight.Dec
}

func (s *Stats) Online(endpoint string, n int) { s.online.WithLabelValues(endpoint).Set(float64(n)) }

func (s *Stats) MessageIn()  { s.frames.WithLabelValues("in").Inc() }
func (s *Stats) MessageOut() { s.frames.WithLabelValues("out").Inc() }

func (s *Stats) Error()   { s.errors.Inc() }
func (s *Stats) Timeout() { s.timeouts.Inc() }

func (s *Stats) Recycled(n int) { s.recycled.Add(float64(n)) }
