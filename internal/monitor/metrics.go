package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_monitor_polls_total",
		Help: "Payment status polls, labeled by outcome",
	}, []string{"outcome"})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_monitor_sessions_total",
		Help: "Finished monitoring sessions, labeled by final phase",
	}, []string{"phase"})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_monitor_poll_duration_seconds",
		Help:    "Time spent waiting for a payment status response",
		Buckets: prometheus.DefBuckets,
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payment_monitor_active_sessions",
		Help: "Monitors currently polling",
	})
)
