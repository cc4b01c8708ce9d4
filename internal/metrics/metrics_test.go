package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquiryrelay/internal/relay"
)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.Attempt(1, 20*time.Millisecond, &relay.Error{Kind: relay.KindServerUnavailable})
	m.Attempt(2, 10*time.Millisecond, nil)
	m.Settled(relay.LabelInquiry, relay.OutcomeSent, "", 2, time.Second)
	m.Settled(relay.LabelRaw, relay.OutcomeRejected, relay.KindConfiguration, 0, 0)
	m.QueueDepth(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("SERVER_UNAVAILABLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settled.WithLabelValues("inquiry", "sent", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settled.WithLabelValues("raw", "rejected", "CONFIGURATION_ERROR")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/items/42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/items/{id}", "418")))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "inquiryrelay_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
