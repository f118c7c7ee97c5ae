package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/op-harness/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"
)

// Config selects which servers are started.
type Config struct {
	Log            log.Logger
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
	HealthzAddr    string // Defaults to HealthzHost:HealthzPort
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	config Config
	log    log.Logger
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.HealthzAddr == "" {
		cfg.HealthzAddr = net.JoinHostPort(HealthzHost, HealthzPort)
	}
	s := &Service{
		Healthz: &HealthzServer{log: cfg.Log},
		Metrics: &MetricsServer{},
		config:  cfg,
		log:     cfg.Log,
	}
	return s
}

// Start launches the servers in the background. Only the metrics server is optional.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	go func() {
		addr := s.config.HealthzAddr
		s.log.Info("starting healthz server", "addr", addr)
		if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
		}
	}()

	if s.config.MetricsEnabled {
		go func() {
			addr := net.JoinHostPort(s.config.MetricsHost, strconv.Itoa(s.config.MetricsPort))
			s.log.Info("starting metrics server", "addr", addr)
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	s.log.Info("service started")
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	s.log.Info("metrics stopped")

	s.log.Info("service stopped")
}
