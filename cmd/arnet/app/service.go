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

package app

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/arnet/pkg/api"
	"github.com/carverauto/arnet/pkg/identity"
	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/metrics"
	"github.com/carverauto/arnet/pkg/natsutil"
	"github.com/carverauto/arnet/pkg/orchestrator"
	"github.com/carverauto/arnet/pkg/snapshot"
)

const (
	eventBuffer        = 64
	subscriptionBuffer = 256
)

// Service runs the orchestrator together with its inputs and outputs.
type Service struct {
	orch        *orchestrator.Orchestrator
	store       *snapshot.Store
	history     *metrics.Manager
	instruments *metrics.Instruments
	absence     time.Duration
	logger      logger.Logger

	nc        *nats.Conn
	publisher *natsutil.EventPublisher
	sources   []identity.Source
	api       *api.Server
	closers   []func() error
}

// Start implements lifecycle.Service. It returns when ctx ends or any component fails.
func (s *Service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	events := make(chan identity.Event, eventBuffer)

	g.Go(func() error {
		return s.orch.Run(ctx, events)
	})

	if len(s.sources) > 0 {
		g.Go(func() error {
			defer close(events)

			// Source failures are already logged by Merge and must not stop polling.
			if err := identity.Merge(ctx, events, s.logger, s.sources...); err != nil {
				s.logger.Warn().Err(err).Msg("Identification sources stopped with errors")

				return nil
			}

			s.logger.Info().Msg("All identification sources finished")

			return nil
		})
	}

	transitions, unsubscribeLog := s.store.Subscribe(subscriptionBuffer)
	defer unsubscribeLog()

	g.Go(func() error {
		return snapshot.LogTransitions(ctx, transitions, s.logger)
	})

	if s.publisher != nil {
		published, unsubscribePublish := s.store.Subscribe(subscriptionBuffer)
		defer unsubscribePublish()

		g.Go(func() error {
			return s.publisher.Forward(ctx, published)
		})
	}

	if s.api != nil {
		g.Go(func() error {
			return s.api.Start(ctx)
		})
	}

	g.Go(func() error {
		return s.pruneHistory(ctx)
	})

	return g.Wait()
}

// pruneHistory drops poll history of devices that have not been polled for an absence window.
func (s *Service) pruneHistory(ctx context.Context) error {
	ticker := time.NewTicker(s.absence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := s.history.CleanupStale(s.absence, now); n > 0 {
				s.logger.Debug().Int("devices", n).Msg("Pruned stale poll history")
			}
		}
	}
}

// Stop implements lifecycle.Service.
func (s *Service) Stop(ctx context.Context) error {
	var errs []error

	if s.api != nil {
		errs = append(errs, s.api.Stop(ctx))
	}

	errs = append(errs, s.orch.Close(ctx))

	s.closeNATS()

	if s.instruments != nil {
		errs = append(errs, s.instruments.Close())
	}

	for _, c := range s.closers {
		errs = append(errs, c())
	}

	return errors.Join(errs...)
}

func (s *Service) closeNATS() {
	if s.nc == nil {
		return
	}

	if err := s.nc.Drain(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to drain NATS connection")
		s.nc.Close()
	}
}
