/*
Package httpserver assembles the egide HTTP API.

The server mounts three route groups on a single chi router:

  - /v1/sys      seal lifecycle (init, unseal, seal, generate-root)
  - /v1/kms      named key management
  - /v1/transit  encrypt, decrypt, rewrap, sign, verify and datakey

Every request passes through chi's RequestID and Recoverer middleware, the
structured request logger and a metrics middleware that records
egide_http_requests_total by route pattern. The router is wrapped in an
otelhttp handler, so each request opens a span named after its route.

Operational endpoints:

  - GET /livez    always 200 while the process runs
  - GET /readyz   503 while draining or sealed
  - GET /drain    mark the server not ready
  - GET /undrain  mark the server ready again
  - /debug/pprof  when EnablePprof is set

Prometheus metrics are served on a separate listener (MetricsAddr).

Usage:

	srv, err := httpserver.New(cfg, sealManager, keyStore, transit.WithEventSink(sink))
	if err != nil {
		return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
