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

// Package session runs the per-device diagnostic poll loops.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
	"github.com/carverauto/arnet/pkg/probe"
)

//nolint:gochecknoglobals // resolves against the global provider lazily
var tracer = otel.Tracer("github.com/carverauto/arnet/pkg/session")

var (
	errNoPublisher  = errors.New("session requires a publisher")
	errNoSpecs      = errors.New("session requires at least one probe spec")
	errNoProbe      = errors.New("no probe registered for protocol")
	errDuplicate    = errors.New("duplicate probe spec for protocol")
	errNotStarted   = errors.New("session not started")
	errAlreadyStart = errors.New("session already started")
	errCancelled    = errors.New("session cancelled")
)

// Gate is the global admission control every poll attempt passes through.
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
}

// Publisher receives completed cycle results. It returns false when the result was discarded
// because the session is no longer current for its device.
type Publisher interface {
	Publish(deviceID string, generation uint64, result models.ProbeResult) bool
}

// CredentialSource resolves the credentials a probe needs for one device.
type CredentialSource interface {
	Lookup(deviceID string, spec models.ProbeSpec) (models.Credentials, error)
}

// Observer is notified of every attempt outcome, published or not.
type Observer interface {
	ObserveAttempt(deviceID string, result models.ProbeResult)
}

// Config wires a Session to its collaborators.
type Config struct {
	Identity    models.DeviceIdentity
	Generation  uint64
	Specs       []models.ProbeSpec
	Probes      probe.Set
	Credentials CredentialSource
	Gate        Gate
	Publisher   Publisher
	Observer    Observer
	Clock       Clock
	Logger      logger.Logger
}

type pollLoop struct {
	spec     models.ProbeSpec
	probe    probe.DiagnosticProbe
	state    State
	failures int
}

// Session is the live bundle of poll loops for one device. Each configured protocol runs in its
// own goroutine on its own interval until the session is cancelled.
type Session struct {
	deviceID    string
	generation  uint64
	probes      probe.Set
	credentials CredentialSource
	gate        Gate
	publisher   Publisher
	observer    Observer
	clock       Clock
	logger      logger.Logger

	mu       sync.RWMutex
	identity models.DeviceIdentity
	loops    map[models.Protocol]*pollLoop
	order    []models.Protocol

	lifeMu    sync.Mutex
	started   bool
	cancel    context.CancelFunc
	cancelled atomic.Bool
	wg        sync.WaitGroup
	done      chan struct{}
}

// New validates cfg and builds a session that is ready to Start.
func New(cfg *Config) (*Session, error) {
	if cfg.Publisher == nil {
		return nil, errNoPublisher
	}

	if len(cfg.Specs) == 0 {
		return nil, fmt.Errorf("%w: %s", errNoSpecs, cfg.Identity.DeviceID)
	}

	s := &Session{
		deviceID:    cfg.Identity.DeviceID,
		generation:  cfg.Generation,
		probes:      cfg.Probes,
		credentials: cfg.Credentials,
		gate:        cfg.Gate,
		publisher:   cfg.Publisher,
		observer:    cfg.Observer,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		identity:    cfg.Identity,
		loops:       make(map[models.Protocol]*pollLoop, len(cfg.Specs)),
		done:        make(chan struct{}),
	}

	if s.clock == nil {
		s.clock = RealClock{}
	}

	if s.gate == nil {
		s.gate = noopGate{}
	}

	if s.credentials == nil {
		s.credentials = noCredentials{}
	}

	if s.logger == nil {
		s.logger = logger.NewTestLogger()
	}

	for i := range cfg.Specs {
		spec := cfg.Specs[i]

		if err := spec.Validate(); err != nil {
			return nil, err
		}

		if _, exists := s.loops[spec.Protocol]; exists {
			return nil, fmt.Errorf("%w: %s", errDuplicate, spec.Protocol)
		}

		p, ok := s.probes.Get(spec.Protocol)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errNoProbe, spec.Protocol)
		}

		s.loops[spec.Protocol] = &pollLoop{spec: spec, probe: p, state: StateIdle}
		s.order = append(s.order, spec.Protocol)
	}

	return s, nil
}

// Start launches one poll loop per configured protocol. The first poll of every loop fires
// immediately.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.cancelled.Load() {
		return errCancelled
	}

	if s.started {
		return errAlreadyStart
	}

	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	identity := s.Identity()

	s.logger.Info().
		Str("device_id", identity.DeviceID).
		Str("address", identity.Address).
		Uint64("generation", s.generation).
		Int("protocols", len(s.order)).
		Msg("Starting diagnostic session")

	for _, p := range s.order {
		s.wg.Add(1)

		go s.run(ctx, s.loops[p])
	}

	go func() {
		s.wg.Wait()
		cancel()
		close(s.done)
	}()

	return nil
}

// Cancel stops every poll loop at its next suspension point. It never blocks on network I/O;
// use Done or Wait to observe the loops exiting.
func (s *Session) Cancel() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}

	if !s.started {
		// never started: nothing else will close done
		s.started = true
		close(s.done)

		return
	}

	s.cancel()
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Done is closed once every poll loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every poll loop has exited or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	s.lifeMu.Lock()
	started := s.started
	s.lifeMu.Unlock()

	if !started {
		return errNotStarted
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Generation identifies this session among all sessions ever created for its device.
func (s *Session) Generation() uint64 {
	return s.generation
}

// Identity returns the device identity the session was last updated with.
func (s *Session) Identity() models.DeviceIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.identity
}

// UpdateIdentity replaces descriptive identity fields without touching running polls.
// The address is fixed for the lifetime of a session.
func (s *Session) UpdateIdentity(identity models.DeviceIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity.Address = s.identity.Address
	s.identity = identity
}

// Protocols lists the configured protocols in configuration order.
func (s *Session) Protocols() []models.Protocol {
	out := make([]models.Protocol, len(s.order))
	copy(out, s.order)

	return out
}

// Specs returns the probe specs the session polls with, defaults applied.
func (s *Session) Specs() []models.ProbeSpec {
	out := make([]models.ProbeSpec, 0, len(s.order))

	for _, p := range s.order {
		out = append(out, s.loops[p].spec)
	}

	return out
}

// State returns the current state of the poll loop for protocol p.
func (s *Session) State(p models.Protocol) State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.loops[p]; ok {
		return l.state
	}

	return StateIdle
}

// ConsecutiveFailures returns how many attempts for protocol p have failed since its last success.
func (s *Session) ConsecutiveFailures(p models.Protocol) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.loops[p]; ok {
		return l.failures
	}

	return 0
}

func (s *Session) run(ctx context.Context, l *pollLoop) {
	defer s.wg.Done()

	ticker := s.clock.Ticker(time.Duration(l.spec.Interval))
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		s.cycle(ctx, l)
		s.setState(l, StateIdle)

		// ticks that fired during a long cycle are skipped so failures never shorten the interval
		select {
		case <-ticker.Chan():
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// cycle performs one scheduled poll including in-cycle retries and publishes its outcome.
func (s *Session) cycle(ctx context.Context, l *pollLoop) {
	ctx, span := tracer.Start(ctx, "session.cycle", trace.WithAttributes(
		attribute.String("arnet.device_id", s.deviceID),
		attribute.String("arnet.protocol", string(l.spec.Protocol)),
		attribute.Int64("arnet.generation", int64(s.generation)),
	))
	defer span.End()

	bo := newRetryBackOff(l.spec)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		s.setState(l, StatePolling)

		result := s.attempt(ctx, l)
		result.Attempts = attempt + 1

		span.SetAttributes(attribute.Int("arnet.attempts", result.Attempts))

		if s.observer != nil {
			s.observer.ObserveAttempt(s.deviceID, result)
		}

		if ctx.Err() != nil || result.FailureKind() == models.ErrorKindCancelled {
			s.logger.Debug().
				Str("device_id", s.deviceID).
				Str("protocol", string(l.spec.Protocol)).
				Msg("Discarding result of cancelled poll")

			span.SetStatus(codes.Unset, "cancelled")

			return
		}

		if result.Success {
			span.SetStatus(codes.Ok, "")
			s.finish(l, StateSucceeded, true)
			s.publish(result)

			return
		}

		s.finish(l, StateFailedRetryable, false)

		kind := result.FailureKind()
		if !kind.Retryable() || uint(attempt) >= l.spec.MaxRetries {
			s.setState(l, StateFailedFatal)
			span.SetStatus(codes.Error, string(kind))

			s.logger.Warn().
				Str("device_id", s.deviceID).
				Str("protocol", string(l.spec.Protocol)).
				Str("kind", string(kind)).
				Int("attempts", attempt+1).
				Str("detail", result.FailureDetail()).
				Msg("Poll cycle failed")

			s.publish(result)

			return
		}

		delay := bo.NextBackOff()

		s.logger.Debug().
			Str("device_id", s.deviceID).
			Str("protocol", string(l.spec.Protocol)).
			Str("kind", string(kind)).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Poll attempt failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}
	}
}

// attempt runs one probe call under an admission slot. The slot is held until the probe
// returns, even when the session stops waiting for it at the timeout.
func (s *Session) attempt(ctx context.Context, l *pollLoop) models.ProbeResult {
	identity := s.Identity()

	if err := s.gate.Acquire(ctx); err != nil {
		return models.NewFailure(l.spec.Protocol, s.clock.Now(), models.ErrorKindCancelled, err.Error())
	}

	creds, err := s.credentials.Lookup(identity.DeviceID, l.spec)
	if err != nil {
		s.gate.Release()

		return models.NewFailure(l.spec.Protocol, s.clock.Now(), models.ErrorKindAuthenticationFailed,
			fmt.Sprintf("credentials: %v", err))
	}

	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(l.spec.Timeout))
	defer cancel()

	resultCh := make(chan models.ProbeResult, 1)

	go func() {
		defer s.gate.Release()

		resultCh <- probe.Run(pollCtx, l.probe, identity.Address, creds, l.spec)
	}()

	select {
	case result := <-resultCh:
		return result
	case <-pollCtx.Done():
	}

	// prefer a result that raced the deadline
	select {
	case result := <-resultCh:
		return result
	default:
	}

	kind := models.ErrorKindTimeout
	if ctx.Err() != nil {
		kind = models.ErrorKindCancelled
	}

	return models.NewFailure(l.spec.Protocol, s.clock.Now(), kind,
		fmt.Sprintf("%s probe did not return within %s", l.spec.Protocol, time.Duration(l.spec.Timeout)))
}

func (s *Session) publish(result models.ProbeResult) {
	if s.cancelled.Load() {
		return
	}

	if !s.publisher.Publish(s.deviceID, s.generation, result) {
		s.logger.Debug().
			Str("device_id", s.deviceID).
			Uint64("generation", s.generation).
			Str("protocol", string(result.Protocol)).
			Msg("Result dropped for superseded session")
	}
}

func (s *Session) finish(l *pollLoop, state State, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.state = state

	if success {
		l.failures = 0
	} else {
		l.failures++
	}
}

func (s *Session) setState(l *pollLoop, state State) {
	s.mu.Lock()
	l.state = state
	s.mu.Unlock()
}

type noopGate struct{}

func (noopGate) Acquire(context.Context) error { return nil }
func (noopGate) Release()                      {}

type noCredentials struct{}

func (noCredentials) Lookup(string, models.ProbeSpec) (models.Credentials, error) {
	return models.Credentials{}, nil
}
