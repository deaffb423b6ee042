package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StartMetricsServer starts an HTTP server exposing the Prometheus
// metrics registered by this package (ComponentLatency, RecordsProcessed,
// BufferOccupancy, and the rest of metrics.go) on addr.
func StartMetricsServer(addr string, log zerolog.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
