package service

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the prometheus registry on /metrics.
type MetricsServer struct {
	ctx      context.Context
	server   *http.Server
	Gatherer prometheus.Gatherer
}

func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	m.server = &http.Server{
		Handler: m.Handler(),
		Addr:    addr,
	}
	m.ctx = ctx
	return m.server.ListenAndServe()
}

// Handler serves the gathered metrics.
func (m *MetricsServer) Handler() http.Handler {
	gatherer := m.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	hdlr := http.NewServeMux()
	hdlr.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return hdlr
}

func (m *MetricsServer) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(m.ctx)
}
