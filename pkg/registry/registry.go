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

// Package registry owns the set of active diagnostic sessions, one per device.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
	"github.com/carverauto/arnet/pkg/probe"
	"github.com/carverauto/arnet/pkg/session"
)

// DefaultAbsenceWindow is how long a device may go unseen before its session is retired.
const DefaultAbsenceWindow = 30 * time.Second

var (
	errClosed         = errors.New("registry closed")
	errNoSnapshot     = errors.New("registry requires a snapshot writer")
	errNoSpecResolver = errors.New("registry requires a spec resolver")
	errNoProbeSpecs   = errors.New("no probes configured for device")
)

// Outcome describes what Upsert did.
type Outcome int

const (
	// OutcomeCreated started a new session.
	OutcomeCreated Outcome = iota
	// OutcomeRefreshed only extended the device's last-seen time.
	OutcomeRefreshed
	// OutcomeUpdated changed descriptive identity fields in place.
	OutcomeUpdated
	// OutcomeRestarted replaced the session because the device's address or probe set changed.
	OutcomeRestarted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeUpdated:
		return "updated"
	case OutcomeRestarted:
		return "restarted"
	default:
		return "unknown"
	}
}

// Config wires a Registry to the rest of the orchestrator.
type Config struct {
	AbsenceWindow time.Duration
	Specs         SpecResolver
	Snapshots     SnapshotWriter
	Probes        probe.Set
	Credentials   session.CredentialSource
	Gate          session.Gate
	Observer      session.Observer
	Clock         session.Clock
	Logger        logger.Logger
}

type entry struct {
	session  *session.Session
	lastSeen time.Time
}

// Registry is the single mutation point for sessions. Every create, restart and retire happens
// under its lock, so at most one session exists per device ID at any instant.
type Registry struct {
	cfg    Config
	logger logger.Logger
	clock  session.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	entries    map[string]*entry
	byAddress  addressIndex
	generation uint64
	closed     bool

	running sync.WaitGroup
}

// New creates a Registry. Sessions it starts are children of ctx.
func New(ctx context.Context, cfg *Config) (*Registry, error) {
	if cfg.Snapshots == nil {
		return nil, errNoSnapshot
	}

	if cfg.Specs == nil {
		return nil, errNoSpecResolver
	}

	c := *cfg

	if c.AbsenceWindow <= 0 {
		c.AbsenceWindow = DefaultAbsenceWindow
	}

	if c.Clock == nil {
		c.Clock = session.RealClock{}
	}

	if c.Logger == nil {
		c.Logger = logger.NewTestLogger()
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Registry{
		cfg:       c,
		logger:    c.Logger,
		clock:     c.Clock,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*entry),
		byAddress: make(addressIndex),
	}, nil
}

// AbsenceWindow returns the effective absence window.
func (r *Registry) AbsenceWindow() time.Duration {
	return r.cfg.AbsenceWindow
}

// Upsert makes sure a session exists for identity and marks the device as seen.
//
// An identical identity only refreshes the last-seen time. A change of model, kind or location
// is applied in place without touching running polls, unless the new identity resolves to a
// different set of probe protocols. That case and a change of address cancel the old session
// and start a new one.
func (r *Registry) Upsert(identity models.DeviceIdentity) (*session.Session, Outcome, error) {
	if err := identity.Validate(); err != nil {
		return nil, OutcomeRefreshed, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, OutcomeRefreshed, errClosed
	}

	now := r.clock.Now()

	existing, ok := r.entries[identity.DeviceID]
	if !ok {
		sess, err := r.createLocked(identity, now)
		if err != nil {
			return nil, OutcomeCreated, err
		}

		return sess, OutcomeCreated, nil
	}

	current := existing.session.Identity()
	existing.lastSeen = now

	switch {
	case current.Equal(identity):
		return existing.session, OutcomeRefreshed, nil
	case !current.SameTarget(identity):
		r.logger.Info().
			Str("device_id", identity.DeviceID).
			Str("old_address", current.Address).
			Str("new_address", identity.Address).
			Msg("Device address changed, restarting session")
	case !sameProtocols(existing.session.Protocols(), r.cfg.Specs.ProbeSpecsFor(identity)):
		r.logger.Info().
			Str("device_id", identity.DeviceID).
			Str("old_kind", string(current.Kind)).
			Str("new_kind", string(identity.Kind)).
			Msg("Device probe set changed, restarting session")
	default:
		existing.session.UpdateIdentity(identity)
		r.cfg.Snapshots.UpdateIdentity(identity)

		r.logger.Info().
			Str("device_id", identity.DeviceID).
			Str("model", identity.Model).
			Str("kind", string(identity.Kind)).
			Msg("Updated device identity")

		return existing.session, OutcomeUpdated, nil
	}

	r.retireLocked(identity.DeviceID)

	sess, err := r.createLocked(identity, now)
	if err != nil {
		return nil, OutcomeRestarted, err
	}

	return sess, OutcomeRestarted, nil
}

func sameProtocols(running []models.Protocol, specs []models.ProbeSpec) bool {
	if len(running) != len(specs) {
		return false
	}

	want := make(map[models.Protocol]struct{}, len(specs))
	for i := range specs {
		want[specs[i].Protocol] = struct{}{}
	}

	for _, p := range running {
		if _, ok := want[p]; !ok {
			return false
		}
	}

	return len(want) == len(running)
}

func (r *Registry) createLocked(identity models.DeviceIdentity, now time.Time) (*session.Session, error) {
	specs := r.cfg.Specs.ProbeSpecsFor(identity)
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s (kind %s)", errNoProbeSpecs, identity.DeviceID, identity.Kind)
	}

	r.generation++

	sess, err := session.New(&session.Config{
		Identity:    identity,
		Generation:  r.generation,
		Specs:       specs,
		Probes:      r.cfg.Probes,
		Credentials: r.cfg.Credentials,
		Gate:        r.cfg.Gate,
		Publisher:   r,
		Observer:    r.cfg.Observer,
		Clock:       r.clock,
		Logger:      r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", identity.DeviceID, err)
	}

	if others := r.byAddress.others(&identity); len(others) > 0 {
		r.logger.Warn().
			Str("device_id", identity.DeviceID).
			Str("address", identity.Address).
			Strs("other_devices", others).
			Msg("Address already in use by another tracked device")
	}

	r.cfg.Snapshots.Register(identity, sess.Specs())
	r.entries[identity.DeviceID] = &entry{session: sess, lastSeen: now}
	r.byAddress.add(&identity)

	if err := sess.Start(r.ctx); err != nil {
		r.removeLocked(identity.DeviceID)

		return nil, err
	}

	r.running.Add(1)

	go func() {
		<-sess.Done()
		r.running.Done()
	}()

	return sess, nil
}

// Publish implements session.Publisher. A result is accepted only while the session that
// produced it is still the current session for its device, which is checked under the
// registry lock so that no result lands after Retire returns.
func (r *Registry) Publish(deviceID string, generation uint64, result models.ProbeResult) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[deviceID]
	if !ok || e.session.Generation() != generation || e.session.Cancelled() {
		return false
	}

	return r.cfg.Snapshots.Publish(deviceID, result)
}

// Retire cancels the device's session and drops its snapshot. Unknown IDs are ignored.
// Retire does not wait for in-flight probe calls.
func (r *Registry) Retire(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.retireLocked(deviceID)
}

func (r *Registry) retireLocked(deviceID string) bool {
	e, ok := r.entries[deviceID]
	if !ok {
		return false
	}

	e.session.Cancel()
	r.removeLocked(deviceID)

	r.logger.Info().
		Str("device_id", deviceID).
		Uint64("generation", e.session.Generation()).
		Msg("Retired diagnostic session")

	return true
}

func (r *Registry) removeLocked(deviceID string) {
	if e, ok := r.entries[deviceID]; ok {
		identity := e.session.Identity()
		r.byAddress.remove(&identity)
	}

	delete(r.entries, deviceID)
	r.cfg.Snapshots.Remove(deviceID)
}

// Sweep retires every session whose device has not been seen within the absence window and
// returns the retired IDs in sorted order.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var retired []string

	for id, e := range r.entries {
		if now.Sub(e.lastSeen) > r.cfg.AbsenceWindow {
			retired = append(retired, id)
		}
	}

	sort.Strings(retired)

	for _, id := range retired {
		r.retireLocked(id)
	}

	if len(retired) > 0 {
		r.logger.Debug().Strs("device_ids", retired).Msg("Swept absent devices")
	}

	return retired
}

// RetireAll retires every session and returns the retired IDs in sorted order.
func (r *Registry) RetireAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.retireAllLocked()
}

func (r *Registry) retireAllLocked() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		r.retireLocked(id)
	}

	return ids
}

// Get returns the current session for deviceID.
func (r *Registry) Get(deviceID string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[deviceID]
	if !ok {
		return nil, false
	}

	return e.session, true
}

// LastSeen returns when deviceID was last upserted.
func (r *Registry) LastSeen(deviceID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[deviceID]
	if !ok {
		return time.Time{}, false
	}

	return e.lastSeen, true
}

// List returns the identities of every active session ordered by device ID.
func (r *Registry) List() []models.DeviceIdentity {
	r.mu.RLock()
	out := make([]models.DeviceIdentity, 0, len(r.entries))

	for _, e := range r.entries {
		out = append(out, e.session.Identity())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DeviceID < out[j].DeviceID
	})

	return out
}

// FindByAddress returns the IDs of active devices polled at address's host.
func (r *Registry) FindByAddress(address string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byAddress.lookup(address)
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Close retires every session, rejects further upserts and waits for all poll loops to exit
// or ctx to end.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.retireAllLocked()
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})

	go func() {
		r.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
	}
}
