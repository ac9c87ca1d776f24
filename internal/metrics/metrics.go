// Package metrics exposes Prometheus instrumentation for the bridge daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "tonbridge_build_info", Help: "Build information"},
		[]string{"date", "sha", "version"},
	)
	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tonbridge_request_total", Help: "Total bridge requests by method"},
		[]string{"method"},
	)
	requestCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tonbridge_request_completed_total", Help: "Completed bridge requests"},
		[]string{"method", "success", "error_code"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "tonbridge_request_duration_seconds", Help: "Bridge request durations"},
		[]string{"method"},
	)
	eventTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tonbridge_event_total", Help: "Events pushed to dapp hosts"},
		[]string{"event"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tonbridge_sessions_active", Help: "Currently connected dapp hosts"},
	)
)

// Register registers all daemon metrics with the provided registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(buildInfo, requestTotal, requestCompletedTotal, requestDuration, eventTotal, sessionsActive)
}

// SetBuildInfo sets the build info metric for the daemon.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

func RecordRequest(method string) {
	requestTotal.WithLabelValues(method).Inc()
}

func RecordComplete(method, errorCode string, success bool, dur time.Duration) {
	s := "false"
	if success {
		s = "true"
	}
	requestCompletedTotal.WithLabelValues(method, s, errorCode).Inc()
	requestDuration.WithLabelValues(method).Observe(dur.Seconds())
}

func RecordEvent(event string) {
	eventTotal.WithLabelValues(event).Inc()
}

func ClientConnected()    { sessionsActive.Inc() }
func ClientDisconnected() { sessionsActive.Dec() }
