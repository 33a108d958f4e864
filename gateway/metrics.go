package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests  *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodmobile",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Requests sent by the gateway, by channel, method and response code.",
		}, []string{"channel", "method", "code"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodmobile",
			Subsystem: "gateway",
			Name:      "refresh_total",
			Help:      "Credential refresh attempts triggered by 401 responses, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foodmobile",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Round trip time of gateway requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.refreshes, m.duration)
	}
	return m
}
