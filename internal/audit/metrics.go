package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics は監査ログ書き込みのPrometheusメトリクス。
type Metrics struct {
	writesTotal  *prometheus.CounterVec
	droppedTotal *prometheus.CounterVec
}

// NewMetrics は指定したRegistererにメトリクスを登録する。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		writesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "audit",
				Name:      "writes_total",
				Help:      "Total number of audit store writes by operation and result",
			},
			[]string{"op", "result"},
		),
		droppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Total number of audit operations dropped because the queue was full or closed",
			},
			[]string{"op"},
		),
	}
}

func (m *Metrics) write(op, result string) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) drop(op string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(op).Inc()
}
