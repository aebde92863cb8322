package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// NewHandler serves reg on /metrics and health probes on /live and /ready.
// ready gates readiness; its result is also exported as a gauge in reg.
func NewHandler(reg *prometheus.Registry, ready healthcheck.Check) http.Handler {
	health := healthcheck.NewMetricsHandler(reg, namespace)
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	health.AddReadinessCheck("orchestrator", ready)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	return mux
}

// Serve runs the metrics and health endpoints on addr until ctx is done.
func Serve(ctx context.Context, addr string, ready healthcheck.Check) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(Registry, ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx) // best-effort
	}()

	slog.Info("serving metrics", "component", "metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
