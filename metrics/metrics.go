package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "egide"

// Operations counts key store and envelope operations by outcome.
type Operations struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	batch    *prometheus.HistogramVec
}

// NewOperations registers the operation collectors on reg.
func NewOperations(reg prometheus.Registerer) *Operations {
	factory := promauto.With(reg)
	return &Operations{
		total: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of key operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Key operation duration in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		batch: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of items per batch request",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
			},
			[]string{"operation"},
		),
	}
}

// Observe records one finished operation. outcome is "ok" or an error kind.
func (o *Operations) Observe(operation, outcome string, d time.Duration) {
	o.total.WithLabelValues(operation, outcome).Inc()
	o.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (o *Operations) ObserveBatch(operation string, size int) {
	o.batch.WithLabelValues(operation).Observe(float64(size))
}

// SealSource is the read side of the seal manager the gauges sample.
type SealSource interface {
	Sealed() bool
	Progress() int
}

// RegisterSealGauges exports egide_sealed and egide_unseal_progress, sampled
// on every scrape.
func RegisterSealGauges(reg prometheus.Registerer, src SealSource) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sealed",
		Help:      "1 while the master key is unavailable",
	}, func() float64 {
		if src.Sealed() {
			return 1
		}
		return 0
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "unseal_progress",
		Help:      "Number of unseal shares accumulated towards the threshold",
	}, func() float64 {
		return float64(src.Progress())
	})
}

// HTTPRequests counts API requests by route pattern.
type HTTPRequests struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPRequests(reg prometheus.Registerer) *HTTPRequests {
	factory := promauto.With(reg)
	return &HTTPRequests{
		total: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (h *HTTPRequests) Observe(method, route string, status int, d time.Duration) {
	h.total.WithLabelValues(method, route, statusClass(status)).Inc()
	h.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
