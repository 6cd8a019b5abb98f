// Package metrics exposes Prometheus collectors for capture, upload, queue and
// disk budget activity. Collectors register with the default registry and are
// served by the daemon API at /metrics when enabled.
package metrics
