package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/config"
)

// MetricsServer exposes Prometheus metrics over HTTP. It is inert when no
// listen address is configured.
type MetricsServer struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates the /metrics endpoint from cfg.
func NewMetricsServer(cfg *config.Config, logger *zap.Logger) *MetricsServer {
	m := &MetricsServer{logger: logger}
	if cfg.Metrics.ListenAddr == "" {
		return m
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.srv = &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m
}

// Start serves until Stop. Returns nil when disabled or stopped.
func (m *MetricsServer) Start() error {
	if m.srv == nil {
		return nil
	}
	m.logger.Info("metrics server starting", zap.String("addr", m.srv.Addr))
	if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the endpoint down.
func (m *MetricsServer) Stop(ctx context.Context) {
	if m.srv == nil {
		return
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
