//go:build noprom

package metrics

import "log"

// When built with -tags noprom, the exporter is compiled out and the no-op
// recorder stays installed.
func enablePrometheus(addr string) error {
	log.Printf("Prometheus support not compiled in (noprom); ignoring METRICS_ADDR %s", addr)
	return nil
}
