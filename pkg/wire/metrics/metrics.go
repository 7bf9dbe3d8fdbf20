package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the bulk protocol adapter.
type Metrics struct {
	Requests        *prometheus.CounterVec
	Chunks          *prometheus.CounterVec
	ItemsPerRequest *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates and registers all metrics on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pims_client_requests_total",
			Help: "Total number of logical PIMS operations, by operation and outcome",
		}, []string{"operation", "outcome"}),
		Chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pims_client_chunks_total",
			Help: "Total number of HTTP exchanges issued for chunked bulk operations",
		}, []string{"operation"}),
		ItemsPerRequest: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pims_client_items_per_request",
			Help:    "Number of items submitted per logical PIMS operation",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"operation"}),
	}
}

// RecordOperation records one finished logical operation.
func (m *Metrics) RecordOperation(operation string, items int, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
	m.ItemsPerRequest.WithLabelValues(operation).Observe(float64(items))
}

// RecordChunk records one HTTP exchange issued on behalf of a bulk operation.
func (m *Metrics) RecordChunk(operation string) {
	m.Chunks.WithLabelValues(operation).Inc()
}
