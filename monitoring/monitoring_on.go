//go:build monitoring
// +build monitoring

package monitoring

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/lightningnetwork/avapeer/avacfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var started sync.Once

// Enabled is true when the binary is built with the monitoring tag.
const Enabled = true

// ExportPrometheusMetrics registers the collectors and launches the
// Prometheus exporter on the configured address.
func ExportPrometheusMetrics(cfg avacfg.Prometheus,
	collectors ...prometheus.Collector) error {

	var err error
	started.Do(func() {
		for _, c := range collectors {
			if regErr := prometheus.Register(c); regErr != nil {
				err = fmt.Errorf("register collector: %w",
					regErr)
				return
			}
		}

		log.Infof("Prometheus exporter started on %v/metrics",
			cfg.Listen)

		http.Handle("/metrics", promhttp.Handler())
		go func() {
			err := http.ListenAndServe(cfg.Listen, nil)
			if err != nil && err != http.ErrServerClosed {
				log.Errorf("Prometheus exporter stopped: %v",
					err)
			}
		}()
	})

	return err
}
