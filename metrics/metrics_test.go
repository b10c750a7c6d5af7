package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"apsta/station"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStation(t *testing.T) {
	c := NewCollector()

	c.ObserveStation(station.Result{From: station.StateIdle, To: station.StateConnecting, ConnectIssued: true})
	c.ObserveStation(station.Result{
		From: station.StateConnecting, To: station.StateRetrying,
		Retries: 1, ConnectIssued: true, Signal: station.SignalConnectFailure,
	})
	c.ObserveStation(station.Result{
		From: station.StateRetrying, To: station.StateFailed,
		Retries: 2, ConnectIssued: true, Signal: station.SignalRetryExhausted,
	})

	if got := testutil.ToFloat64(c.connectIssued); got != 3 {
		t.Errorf("connect attempts = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.connectFailure); got != 1 {
		t.Errorf("connect failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.retryExhausted); got != 1 {
		t.Errorf("retry exhausted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stationRetries); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.stationState.WithLabelValues("failed")); got != 1 {
		t.Errorf("state{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stationState.WithLabelValues("retrying")); got != 0 {
		t.Errorf("state{retrying} = %v, want 0", got)
	}
}

func TestObservePeerAndOutbound(t *testing.T) {
	c := NewCollector()

	c.ObservePeer(true, 1)
	c.ObservePeer(true, 2)
	c.ObservePeer(false, 1)
	c.ObserveOutbound(200, nil)
	c.ObserveOutbound(404, nil)
	c.ObserveOutbound(0, errors.New("unreachable"))

	if got := testutil.ToFloat64(c.peers); got != 1 {
		t.Errorf("peers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.peerChanges.WithLabelValues("join")); got != 2 {
		t.Errorf("joins = %v, want 2", got)
	}
	for _, result := range []string{"success", "http_error", "error"} {
		if got := testutil.ToFloat64(c.outbound.WithLabelValues(result)); got != 1 {
			t.Errorf("outbound{%s} = %v, want 1", result, got)
		}
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector()
	reg.MustRegister(c)
	c.ObservePeer(true, 1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "apsta_ap_peers 1") {
		t.Errorf("exposition missing apsta_ap_peers:\n%s", rec.Body.String())
	}
}
