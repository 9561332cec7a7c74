// Package metrics exposes berth's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berth_operations_total",
			Help: "Lifecycle operations by operation, executor and result",
		},
		[]string{"op", "executor", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "berth_operation_duration_seconds",
			Help:    "Lifecycle operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"op"},
	)

	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berth_connectivity_probes_total",
			Help: "TCP reachability probes by result",
		},
		[]string{"result"},
	)

	pollTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "berth_connectivity_timeouts_total",
			Help: "Poll sessions that exhausted their attempt budget",
		},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berth_artifact_transfers_total",
			Help: "Image artifact transfers to targets, by outcome (copied or skipped)",
		},
		[]string{"outcome"},
	)

	imagesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "berth_images_purged_total",
			Help: "Image tags removed by the retention policy",
		},
	)

	tunnelsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "berth_tunnels_open",
			Help: "Reverse tunnels currently established",
		},
	)

	tunnelFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "berth_tunnel_failures_total",
			Help: "Tunnels that exhausted their reconnect attempts",
		},
	)
)

// RecordOperation records one finished lifecycle operation.
func RecordOperation(op, executor string, err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	operationsTotal.WithLabelValues(op, executor, result).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordProbe counts one connectivity probe.
func RecordProbe(open bool) {
	if open {
		probesTotal.WithLabelValues("open").Inc()
		return
	}
	probesTotal.WithLabelValues("closed").Inc()
}

// RecordPollTimeout counts an exhausted poll session.
func RecordPollTimeout() { pollTimeouts.Inc() }

// RecordTransfer counts an artifact that was copied, or skipped because the target had it.
func RecordTransfer(copied bool) {
	if copied {
		transfersTotal.WithLabelValues("copied").Inc()
		return
	}
	transfersTotal.WithLabelValues("skipped").Inc()
}

// RecordPurge counts removed image tags.
func RecordPurge(n int) { imagesPurged.Add(float64(n)) }

// TunnelOpened increments the live tunnel gauge.
func TunnelOpened() { tunnelsOpen.Inc() }

// TunnelClosed decrements the live tunnel gauge.
func TunnelClosed() { tunnelsOpen.Dec() }

// RecordTunnelFailure counts a tunnel that could not be established.
func RecordTunnelFailure() { tunnelFailures.Inc() }

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
