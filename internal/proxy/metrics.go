package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics は転送処理のPrometheusメトリクス。
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics は指定したRegistererにメトリクスを登録する。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of dispatched proxy requests by outcome",
			},
			[]string{"service", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relay",
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Duration of forwarded downstream calls",
				Buckets: []float64{
					.005, .01, .025, .05, .1,
					.25, .5, 1, 2.5, 5, 10, 30,
				},
			},
			[]string{"service"},
		),
	}
}

// observe は転送結果を記録する。nil の場合は何もしない。
func (m *Metrics) observe(service, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(service, outcome).Inc()
	if elapsed > 0 {
		m.requestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
	}
}
