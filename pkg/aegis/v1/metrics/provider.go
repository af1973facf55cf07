// Package metrics exposes the control-plane's Prometheus registry to consumers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider gives access to the metrics registry so embedders can
// expose control-plane metrics through their own endpoint.
type RegistryProvider interface {
	// Registry returns the Prometheus registry holding Aegis metrics.
	Registry() *prometheus.Registry
}
