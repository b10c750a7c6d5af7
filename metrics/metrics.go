// Package metrics exposes Prometheus collectors for the station supervisor,
// the hosted network and the outbound request.
package metrics

import (
	"net/http"

	"apsta/station"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apsta"

var stationStates = []station.State{
	station.StateIdle,
	station.StateConnecting,
	station.StateConnected,
	station.StateRetrying,
	station.StateFailed,
}

// Collector is a prometheus.Collector for device metrics.
type Collector struct {
	stationState   *prometheus.GaugeVec
	connectIssued  prometheus.Counter
	connectFailure prometheus.Counter
	retryExhausted prometheus.Counter
	stationRetries prometheus.Gauge
	peers          prometheus.Gauge
	peerChanges    *prometheus.CounterVec
	outbound       *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		stationState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "station",
				Name:      "state",
				Help:      "Current station connection state; 1 for the active state.",
			}, []string{"state"},
		),
		connectIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "station",
				Name:      "connect_attempts_total",
				Help:      "Connect attempts issued to the substrate.",
			},
		),
		connectFailure: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "station",
				Name:      "connect_failures_total",
				Help:      "Disconnects that triggered a retry.",
			},
		),
		retryExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "station",
				Name:      "retry_exhausted_total",
				Help:      "Sessions that spent their retry budget.",
			},
		),
		stationRetries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "station",
				Name:      "retries",
				Help:      "Retries spent in the current session.",
			},
		),
		peers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ap",
				Name:      "peers",
				Help:      "Peers joined to the hosted network.",
			},
		),
		peerChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ap",
				Name:      "peer_changes_total",
				Help:      "Peer membership changes by kind.",
			}, []string{"change"},
		),
		outbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbound",
				Name:      "requests_total",
				Help:      "Outbound invocations by result.",
			}, []string{"result"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.stationState.Describe(ch)
	c.connectIssued.Describe(ch)
	c.connectFailure.Describe(ch)
	c.retryExhausted.Describe(ch)
	c.stationRetries.Describe(ch)
	c.peers.Describe(ch)
	c.peerChanges.Describe(ch)
	c.outbound.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.stationState.Collect(ch)
	c.connectIssued.Collect(ch)
	c.connectFailure.Collect(ch)
	c.retryExhausted.Collect(ch)
	c.stationRetries.Collect(ch)
	c.peers.Collect(ch)
	c.peerChanges.Collect(ch)
	c.outbound.Collect(ch)
}

// ObserveStation records one supervisor result.
func (c *Collector) ObserveStation(res station.Result) {
	for _, s := range stationStates {
		v := 0.0
		if s == res.To {
			v = 1
		}
		c.stationState.WithLabelValues(s.String()).Set(v)
	}
	c.stationRetries.Set(float64(res.Retries))
	if res.ConnectIssued {
		c.connectIssued.Inc()
	}
	switch res.Signal {
	case station.SignalConnectFailure:
		c.connectFailure.Inc()
	case station.SignalRetryExhausted:
		c.retryExhausted.Inc()
	}
}

// ObservePeer records a membership change and the resulting set size.
func (c *Collector) ObservePeer(joined bool, size int) {
	change := "leave"
	if joined {
		change = "join"
	}
	c.peerChanges.WithLabelValues(change).Inc()
	c.peers.Set(float64(size))
}

// ObserveOutbound records the result of an outbound invocation.
func (c *Collector) ObserveOutbound(statusCode int, err error) {
	result := "error"
	switch {
	case err != nil:
	case statusCode >= 200 && statusCode < 300:
		result = "success"
	default:
		result = "http_error"
	}
	c.outbound.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
