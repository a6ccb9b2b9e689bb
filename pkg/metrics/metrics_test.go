package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/pkg/metrics"
)

func TestStats(t *testing.T) {
	t.Parallel()

	s := metrics.New("test")
	s.Request(metrics.KindRequest)
	s.Request(metrics.KindRequest)
	s.Request(metrics.KindJSON)
	s.Response(http.StatusNotFound)
	s.Observe("/users/{id}", 15*time.Millisecond)
	s.Online("/chat", 3)
	s.MessageIn()
	s.Error()
	s.Timeout()
	s.Recycled(4)
	end := s.Begin()
	end()

	count, err := testutil.GatherAndCount(s.Registry(), "test_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `test_requests_total{kind="request"} 2`)
	assert.Contains(t, body, `test_responses_total{code="404"} 1`)
	assert.Contains(t, body, `test_websocket_online{endpoint="/chat"} 3`)
	assert.Contains(t, body, `test_cache_recycled_total 4`)
	assert.Contains(t, body, `test_requests_in_flight 0`)
}
