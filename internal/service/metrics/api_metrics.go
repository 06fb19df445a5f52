package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fintreasury",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of treasury endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fintreasury",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by treasury endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors)
	})
}
