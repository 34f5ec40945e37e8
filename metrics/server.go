package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes a private Prometheus registry on /metrics.
type MetricsServer struct {
	registry *prometheus.Registry
	labelled prometheus.Registerer
	srv      *http.Server
}

// New creates a registry with the Go and process collectors and a server for
// it on addr. Every metric registered through Registry is labelled with
// app=<app>.
func New(app, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		labelled: prometheus.WrapRegistererWith(prometheus.Labels{"app": app}, registry),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Registry returns the registerer application metrics are attached to.
func (s *MetricsServer) Registry() prometheus.Registerer {
	return s.labelled
}

// Gatherer returns the registry for in-process inspection.
func (s *MetricsServer) Gatherer() prometheus.Gatherer {
	return s.registry
}

func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
