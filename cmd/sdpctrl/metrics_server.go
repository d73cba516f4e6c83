package main

import (
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/pslog"
)

// startMetricsServer exposes reg on addr's /metrics path, matching the
// teacher's own telemetry metrics server (one listener, one handler, no
// TLS: metrics endpoints are expected to sit behind a private network or a
// reverse proxy).
func startMetricsServer(addr string, reg *prometheus.Registry, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped unexpectedly", "error", err)
		}
	}()
	return srv, ln, nil
}
