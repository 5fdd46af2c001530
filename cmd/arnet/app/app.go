/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package app assembles the arnet service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/carverauto/arnet/pkg/api"
	"github.com/carverauto/arnet/pkg/config"
	"github.com/carverauto/arnet/pkg/credentials"
	"github.com/carverauto/arnet/pkg/identity"
	"github.com/carverauto/arnet/pkg/lifecycle"
	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/metrics"
	"github.com/carverauto/arnet/pkg/natsutil"
	"github.com/carverauto/arnet/pkg/orchestrator"
	"github.com/carverauto/arnet/pkg/probe"
	"github.com/carverauto/arnet/pkg/snapshot"
)

const (
	serviceName    = "arnet"
	serviceVersion = "1.0.0"
	meterName      = "github.com/carverauto/arnet"
)

var errFailedToLoadConfig = errors.New("failed to load config")

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// Run loads the configuration, builds every component and serves until a shutdown signal.
func Run(ctx context.Context, opts Options) error {
	var cfg config.ServiceConfig

	if err := config.NewConfig(nil).LoadAndValidate(ctx, opts.ConfigPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	if logConfig.OTel.ServiceVersion == "" {
		logConfig.OTel.ServiceVersion = serviceVersion
	}

	log, err := lifecycle.CreateComponentLogger(ctx, serviceName, logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logger: %v\n", err)
		}
	}()

	tp, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		OTel:   &logConfig.OTel,
		Logger: log,
	})
	if err != nil {
		return err
	}

	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}()

	if cfg.Metrics.Enabled {
		_, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
			OTel:           &logConfig.OTel,
			ExportInterval: time.Duration(cfg.Metrics.ExportInterval),
		})

		switch {
		case errors.Is(err, logger.ErrOTelMetricsDisabled):
			log.Warn().Msg("Metrics enabled but no OTLP endpoint configured; instruments are local only")
		case err != nil:
			return err
		default:
			defer func() {
				if err := logger.ShutdownMetrics(context.Background()); err != nil {
					log.Error().Err(err).Msg("Error shutting down meter provider")
				}
			}()
		}
	}

	svc, err := build(ctx, &cfg, log)
	if err != nil {
		return err
	}

	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ServiceName: serviceName,
		Service:     svc,
		Logger:      log,
	})
}

// build wires probes, sessions, the snapshot store and every input and output around them.
func build(ctx context.Context, cfg *config.ServiceConfig, log logger.Logger) (*Service, error) {
	deviceMap, err := identity.LoadDeviceMap(cfg.DeviceMap.Path)
	if err != nil {
		return nil, err
	}

	enricher := &identity.MapEnricher{Map: deviceMap, Strict: cfg.DeviceMap.Strict}

	store := snapshot.NewStore(log, snapshot.WithStalenessMultiplier(cfg.StalenessMultiplier))

	var (
		orchRef     atomic.Pointer[orchestrator.Orchestrator]
		instruments *metrics.Instruments
	)

	if cfg.Metrics.Enabled {
		instruments, err = metrics.NewInstruments(otel.Meter(meterName), func() metrics.Gauges {
			o := orchRef.Load()
			if o == nil {
				return metrics.Gauges{}
			}

			st := o.Stats()

			return metrics.Gauges{
				Sessions: int64(st.Sessions),
				InFlight: int64(st.InFlight),
				Waiting:  int64(st.Waiting),
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create metric instruments: %w", err)
		}
	}

	history := metrics.NewManager(metrics.Config{
		Retention:  cfg.Metrics.HistorySize,
		MaxDevices: cfg.Metrics.MaxDevices,
	}, instruments, log)

	orch, err := orchestrator.New(ctx, &orchestrator.Config{
		MaxConcurrentPolls: cfg.MaxConcurrentPolls,
		AbsenceWindow:      time.Duration(cfg.AbsenceWindow),
		SweepInterval:      time.Duration(cfg.SweepInterval),
		Specs:              config.NewSpecResolver(cfg, deviceMap),
		Probes: probe.NewSet(
			probe.NewSNMPProbe(log),
			probe.NewSSHProbe(log),
			probe.NewICMPProbe(log, probe.WithPrivilegedICMP(cfg.ICMP.Privileged)),
			probe.NewPortProbe(log),
		),
		Credentials: credentials.NewStatic(cfg.Credentials),
		Store:       store,
		Observer:    history,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	orchRef.Store(orch)

	svc := &Service{
		orch:        orch,
		store:       store,
		history:     history,
		instruments: instruments,
		absence:     time.Duration(cfg.AbsenceWindow),
		logger:      log,
	}

	if cfg.NATS != nil {
		if err := svc.connectNATS(ctx, cfg, enricher); err != nil {
			return nil, err
		}
	}

	if cfg.Sources.Stdin {
		svc.sources = append(svc.sources, identity.NewReaderSource("stdin", os.Stdin, enricher, log))
	}

	if cfg.Sources.File != "" {
		f, err := os.Open(cfg.Sources.File)
		if err != nil {
			svc.closeNATS()

			return nil, fmt.Errorf("failed to open identification source: %w", err)
		}

		svc.closers = append(svc.closers, f.Close)
		svc.sources = append(svc.sources, identity.NewReaderSource(cfg.Sources.File, f, enricher, log))
	}

	if cfg.API.Enabled {
		svc.api = api.NewServer(cfg.API, orch,
			api.WithFeed(store),
			api.WithHistory(history),
			api.WithEnricher(enricher),
			api.WithConfig(cfg),
			api.WithLogger(log))
	}

	if len(svc.sources) == 0 && svc.api == nil {
		log.Warn().Msg("No identification sources or API configured; no devices will be polled")
	}

	return svc, nil
}

func (s *Service) connectNATS(ctx context.Context, cfg *config.ServiceConfig, enricher identity.Enricher) error {
	nc, err := natsutil.ConnectWithSecurity(cfg.NATS, s.logger, nats.Name(serviceName))
	if err != nil {
		return err
	}

	s.nc = nc

	if cfg.Events.Enabled {
		s.publisher, err = natsutil.CreateEventPublisher(ctx, nc, cfg.NATS.Domain, &cfg.Events, s.logger)
		if err != nil {
			nc.Close()

			return err
		}
	}

	if cfg.Sources.NATSSubject != "" {
		s.sources = append(s.sources, identity.NewNATSSource(nc, cfg.Sources.NATSSubject, enricher, s.logger))
	}

	return nil
}
