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

// Package orchestrator reconciles the identification stream against the session registry and
// supervises session lifecycles under a global polling cap.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/carverauto/arnet/pkg/identity"
	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
	"github.com/carverauto/arnet/pkg/probe"
	"github.com/carverauto/arnet/pkg/registry"
	"github.com/carverauto/arnet/pkg/session"
	"github.com/carverauto/arnet/pkg/snapshot"
)

// DefaultSweepInterval is how often absent devices are swept and health ages re-evaluated.
const DefaultSweepInterval = time.Second

var (
	errNoStore = errors.New("orchestrator requires a snapshot store")
	errNoSpecs = errors.New("orchestrator requires a spec resolver")
)

// Config wires an Orchestrator.
type Config struct {
	MaxConcurrentPolls int
	AbsenceWindow      time.Duration
	SweepInterval      time.Duration
	Specs              registry.SpecResolver
	Probes             probe.Set
	Credentials        session.CredentialSource
	Store              *snapshot.Store
	Observer           session.Observer
	Clock              session.Clock
	Logger             logger.Logger
}

// Stats is a point-in-time view of orchestrator activity.
type Stats struct {
	Sessions       int `json:"sessions"`
	InFlight       int `json:"in_flight"`
	PeakInFlight   int `json:"peak_in_flight"`
	Waiting        int `json:"waiting"`
	MaxConcurrent  int `json:"max_concurrent"`
	EventsAccepted int `json:"events_accepted"`
	EventsRejected int `json:"events_rejected"`
	Swept          int `json:"swept"`
}

// Orchestrator consumes identification events and keeps the registry in step with them.
type Orchestrator struct {
	registry      *registry.Registry
	store         *snapshot.Store
	pool          *Pool
	clock         session.Clock
	logger        logger.Logger
	sweepInterval time.Duration

	accepted atomic.Int64
	rejected atomic.Int64
	swept    atomic.Int64
}

// New builds the admission pool and session registry. Sessions live under ctx.
func New(ctx context.Context, cfg *Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errNoStore
	}

	if cfg.Specs == nil {
		return nil, errNoSpecs
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = session.RealClock{}
	}

	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}

	pool := NewPool(cfg.MaxConcurrentPolls)

	reg, err := registry.New(ctx, &registry.Config{
		AbsenceWindow: cfg.AbsenceWindow,
		Specs:         cfg.Specs,
		Snapshots:     cfg.Store,
		Probes:        cfg.Probes,
		Credentials:   cfg.Credentials,
		Gate:          pool,
		Observer:      cfg.Observer,
		Clock:         clock,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session registry: %w", err)
	}

	return &Orchestrator{
		registry:      reg,
		store:         cfg.Store,
		pool:          pool,
		clock:         clock,
		logger:        log,
		sweepInterval: sweep,
	}, nil
}

// Run consumes events until ctx ends, sweeping absent devices on a fixed cadence. A closed
// event channel stops intake but sweeping continues so that devices still age out.
func (o *Orchestrator) Run(ctx context.Context, events <-chan identity.Event) error {
	ticker := o.clock.Ticker(o.sweepInterval)
	defer ticker.Stop()

	o.logger.Info().
		Int("max_concurrent_polls", o.pool.Size()).
		Dur("absence_window", o.registry.AbsenceWindow()).
		Dur("sweep_interval", o.sweepInterval).
		Msg("Starting orchestrator")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				o.logger.Info().Msg("Identification stream closed")

				events = nil

				continue
			}

			o.HandleEvent(ev)
		case <-ticker.Chan():
			o.Sweep()
		}
	}
}

// HandleEvent applies one identification event. Bad events are logged and skipped.
func (o *Orchestrator) HandleEvent(ev identity.Event) {
	if ev.Err != nil {
		o.rejected.Add(1)
		o.logger.Warn().Err(ev.Err).Str("source", ev.Source).Msg("Skipping malformed identification event")

		return
	}

	_, outcome, err := o.registry.Upsert(ev.Identity)
	if err != nil {
		o.rejected.Add(1)
		o.logger.Warn().Err(err).
			Str("source", ev.Source).
			Str("device_id", ev.Identity.DeviceID).
			Msg("Skipping identification event")

		return
	}

	o.accepted.Add(1)

	if outcome != registry.OutcomeRefreshed {
		o.logger.Debug().
			Str("device_id", ev.Identity.DeviceID).
			Str("outcome", outcome.String()).
			Msg("Applied identification event")
	}
}

// Upsert applies an identity outside the event stream, for example from the HTTP API.
func (o *Orchestrator) Upsert(id models.DeviceIdentity) (registry.Outcome, error) {
	_, outcome, err := o.registry.Upsert(id)
	if err != nil {
		o.rejected.Add(1)

		return outcome, err
	}

	o.accepted.Add(1)

	return outcome, nil
}

// Sweep retires absent devices and re-derives age-dependent health.
func (o *Orchestrator) Sweep() []string {
	retired := o.registry.Sweep(o.clock.Now())
	o.swept.Add(int64(len(retired)))

	for _, id := range retired {
		o.logger.Info().Str("device_id", id).Msg("Device left view")
	}

	o.store.Refresh()

	return retired
}

// Clear retires one device explicitly.
func (o *Orchestrator) Clear(deviceID string) bool {
	return o.registry.Retire(deviceID)
}

// ClearAll retires every device, forcing a fresh scan.
func (o *Orchestrator) ClearAll() []string {
	ids := o.registry.RetireAll()

	o.logger.Info().Int("devices", len(ids)).Msg("Cleared all devices")

	return ids
}

// Get returns the latest snapshot for deviceID.
func (o *Orchestrator) Get(deviceID string) (*models.DeviceStatus, error) {
	return o.store.Get(deviceID)
}

// List returns every snapshot ordered by device ID.
func (o *Orchestrator) List() []*models.DeviceStatus {
	return o.store.List()
}

// Registry exposes the session registry for read-only queries.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Pool exposes the admission pool.
func (o *Orchestrator) Pool() *Pool {
	return o.pool
}

// Stats reports current activity counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Sessions:       o.registry.Len(),
		InFlight:       o.pool.InFlight(),
		PeakInFlight:   o.pool.Peak(),
		Waiting:        o.pool.Waiting(),
		MaxConcurrent:  o.pool.Size(),
		EventsAccepted: int(o.accepted.Load()),
		EventsRejected: int(o.rejected.Load()),
		Swept:          int(o.swept.Load()),
	}
}

// Close retires every session and waits for their poll loops to exit.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.registry.Close(ctx)
}
