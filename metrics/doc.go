// Package metrics holds the Prometheus collectors of the server and the
// HTTP server that exposes them. Collectors live on a private registry
// created by New rather than the global default registry.
package metrics
