package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nubster/egide/api"
	"github.com/nubster/egide/api/kmshandler"
	"github.com/nubster/egide/api/syshandler"
	"github.com/nubster/egide/api/transithandler"
	"github.com/nubster/egide/common"
	"github.com/nubster/egide/kms"
	"github.com/nubster/egide/metrics"
	"github.com/nubster/egide/seal"
	"github.com/nubster/egide/transit"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
)

type Server struct {
	cfg     *api.HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	seal    *seal.Manager
	service *transit.Service

	srv         *http.Server
	metricsSrv  *metrics.MetricsServer
	httpMetrics *metrics.HTTPRequests
}

// New wires the seal manager and key store into an HTTP server. The transit
// service is built here so that its metrics land on the server's registry;
// opts are passed through to transit.NewService.
func New(cfg *api.HTTPServerConfig, m *seal.Manager, store *kms.Store, opts ...transit.Option) (srv *Server, err error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	reg := metricsSrv.Registry()
	metrics.RegisterSealGauges(reg, m)
	opts = append(opts, transit.WithMetrics(metrics.NewOperations(reg)))

	srv = &Server{
		cfg:         cfg,
		log:         cfg.Log,
		seal:        m,
		service:     transit.NewService(store, cfg.Log, opts...),
		srv:         nil,
		metricsSrv:  metricsSrv,
		httpMetrics: metrics.NewHTTPRequests(reg),
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      otelhttp.NewHandler(srv.getRouter(), common.PackageName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

// Handler returns the instrumented root handler.
func (srv *Server) Handler() http.Handler {
	return srv.srv.Handler
}

// Service returns the transit service serving the API.
func (srv *Server) Service() *transit.Service {
	return srv.service
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(srv.httpLogger)
	mux.Use(srv.instrument)

	limiter := api.NewClientLimiter(srv.cfg.UnsealRatePerSecond, srv.cfg.UnsealRateBurst)
	syshandler.NewHandler(srv.seal, limiter, srv.log).RegisterRoutes(mux)
	kmshandler.NewHandler(srv.service, srv.seal, srv.log).RegisterRoutes(mux)
	transithandler.NewHandler(srv.service, srv.seal, srv.log).RegisterRoutes(mux)

	// Health and diagnostic endpoints
	mux.Get("/livez", srv.handleLivenessCheck)
	mux.Get("/readyz", srv.handleReadinessCheck)
	mux.Get("/drain", srv.handleDrain)
	mux.Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

// instrument records request metrics by route pattern and names the request
// span after it, so key names never become label values.
func (srv *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		srv.httpMetrics.Observe(r.Method, route, status, time.Since(started))
		trace.SpanFromContext(r.Context()).SetName(r.Method + " " + route)
	})
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

// handleReadinessCheck reports not ready while draining or sealed.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !srv.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	if srv.seal.Sealed() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"sealed"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !srv.isReady.Swap(false) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already draining"}`))
		return
	}

	srv.log.Info("Server marked as not ready")

	go func() {
		// Give load balancers time to observe the readiness change
		time.Sleep(srv.cfg.DrainDuration)
		srv.log.Info("Drain period completed")
	}()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"draining"}`))
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if srv.isReady.Swap(true) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already ready"}`))
		return
	}

	srv.log.Info("Server marked as ready")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) RunInBackground() {
	// metrics
	if srv.cfg.MetricsAddr != "" {
		go func() {
			srv.log.With("metricsAddress", srv.cfg.MetricsAddr).Info("Starting metrics server")
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("HTTP server failed", "err", err)
			}
		}()
	}

	// api
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

func (srv *Server) Shutdown() {
	// api
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	// metrics
	if len(srv.cfg.MetricsAddr) != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()

		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}

// Gatherer exposes the metrics registry, mainly for tests.
func (srv *Server) Gatherer() prometheus.Gatherer {
	return srv.metricsSrv.Gatherer()
}
