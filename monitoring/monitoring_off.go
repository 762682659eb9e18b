//go:build !monitoring
// +build !monitoring

package monitoring

import (
	"fmt"

	"github.com/lightningnetwork/avapeer/avacfg"
	"github.com/prometheus/client_golang/prometheus"
)

// Enabled is true when the binary is built with the monitoring tag.
const Enabled = false

// ExportPrometheusMetrics is required for avapeerd to compile so that
// Prometheus metric exporting can be hidden behind a build tag.
func ExportPrometheusMetrics(_ avacfg.Prometheus,
	_ ...prometheus.Collector) error {

	return fmt.Errorf("avapeerd must be built with the monitoring tag " +
		"to enable exporting Prometheus metrics")
}
