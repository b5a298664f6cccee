// Package metrics holds the process-wide Prometheus collectors.
// All collectors register on the default registry and are served by the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts handled requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traq",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Handled HTTP requests.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "traq",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// SessionsIssued counts token pairs minted at register/login.
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traq",
		Subsystem: "session",
		Name:      "issued_total",
		Help:      "Sessions issued (register/login).",
	})

	// SessionsRotated counts successful refresh rotations.
	SessionsRotated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traq",
		Subsystem: "session",
		Name:      "rotated_total",
		Help:      "Successful refresh-token rotations.",
	})

	// ReuseDetected counts mass revocations triggered by replayed tokens.
	ReuseDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traq",
		Subsystem: "session",
		Name:      "reuse_detected_total",
		Help:      "Refresh-token reuse detections (all sessions revoked).",
	})

	// Logouts counts explicit logout revocations.
	Logouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traq",
		Subsystem: "session",
		Name:      "logouts_total",
		Help:      "Explicit logouts.",
	})
)
