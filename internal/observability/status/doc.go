// Package status serves the operational HTTP endpoints: /healthz with the
// scheduler and queue state, /metrics for Prometheus, and optionally the
// net/http/pprof handlers.
package status
