package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	UpstreamRetries  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	RateLimited      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nibras",
				Name:      "dispatch_total",
				Help:      "Chat dispatches by provider and outcome",
			}, []string{"provider", "outcome"}),
			UpstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nibras",
				Name:      "upstream_retries_total",
				Help:      "Upstream attempts that were retried, by provider and cause",
			}, []string{"provider", "cause"}),
			DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nibras",
				Name:      "dispatch_duration_seconds",
				Help:      "Wall time of a chat dispatch including retries",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			}, []string{"provider"}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nibras",
				Name:      "rate_limited_total",
				Help:      "Inbound requests rejected by the rate limiter",
			}),
		}
		prometheus.MustRegister(global.DispatchTotal, global.UpstreamRetries, global.DispatchDuration, global.RateLimited)
	})
	return global
}
