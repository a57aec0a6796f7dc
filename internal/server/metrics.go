package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequests counts handled requests.
	// Labels: route (matched pattern), method, status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "abverdict",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "abverdict",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"route"})

	// configUploads counts configuration uploads by outcome (ok, invalid).
	configUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "abverdict",
		Subsystem: "config",
		Name:      "uploads_total",
		Help:      "Configuration document uploads by outcome",
	}, []string{"outcome"})
)
