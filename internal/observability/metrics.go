package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"authify/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMetricsPath = "/metrics"

// MetricsServer serves the provider's Prometheus registry on a separate port.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer builds the scrape server from the metrics config. A nil
// provider, or one with metrics disabled, yields a server that answers 404.
func NewMetricsServer(cfg models.MetricsConfig, provider *Provider) *MetricsServer {
	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           metricsMux(cfg.Path, provider),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func metricsMux(path string, provider *Provider) *http.ServeMux {
	if path == "" {
		path = defaultMetricsPath
	}
	mux := http.NewServeMux()
	if provider == nil || provider.registry == nil {
		return mux
	}
	mux.Handle(path, promhttp.HandlerFor(provider.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	}))
	return mux
}

// Handler returns the server's handler, for serving in tests.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start begins serving metrics in a blocking call.
// Returns http.ErrServerClosed on graceful shutdown.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
