package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imeibot_provider_attempts_total",
		Help: "Provider HTTP attempts by result",
	}, []string{"result"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imeibot_provider_request_duration_seconds",
		Help:    "Provider request latency per attempt",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"result"})

	Transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imeibot_transactions_total",
		Help: "Verification transactions by outcome",
	}, []string{"outcome"})

	Pings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imeibot_autopinger_pings_total",
		Help: "Keep-alive pings by result",
	}, []string{"result"})
)
