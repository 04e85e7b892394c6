package kalatori

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	daemonRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kalatori_client_requests_total",
		Help: "Requests sent to the Kalatori daemon, labeled by outcome",
	}, []string{"method", "endpoint", "status"})

	daemonRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kalatori_client_request_duration_seconds",
		Help:    "Latency distribution of Kalatori daemon requests",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "endpoint"})
)
