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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/arnet/pkg/identity"
	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
	"github.com/carverauto/arnet/pkg/probe"
	"github.com/carverauto/arnet/pkg/registry"
	"github.com/carverauto/arnet/pkg/snapshot"
)

// concurrencyProbe records how many of its calls overlap, across all devices sharing it.
type concurrencyProbe struct {
	protocol models.Protocol
	delay    time.Duration
	result   func() models.ProbeResult

	running *atomic.Int32
	maxSeen *atomic.Int32
	calls   atomic.Int32
}

func (p *concurrencyProbe) Protocol() models.Protocol { return p.protocol }

func (p *concurrencyProbe) Poll(ctx context.Context, _ string, _ models.Credentials, _ models.ProbeSpec) models.ProbeResult {
	p.calls.Add(1)

	if p.running != nil {
		n := p.running.Add(1)
		defer p.running.Add(-1)

		for {
			m := p.maxSeen.Load()
			if n <= m || p.maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
	}

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return models.NewFailure(p.protocol, time.Now(), models.ErrorKindTimeout, "timed out")
			}

			return models.NewFailure(p.protocol, time.Now(), models.ErrorKindCancelled, "cancelled")
		}
	}

	if p.result != nil {
		return p.result()
	}

	return models.NewSuccess(p.protocol, time.Now(), nil)
}

func specsFor(interval, timeout time.Duration, retries uint) registry.SpecResolver {
	return registry.SpecResolverFunc(func(models.DeviceIdentity) []models.ProbeSpec {
		return []models.ProbeSpec{
			{
				Protocol: models.ProtocolSNMP, Interval: models.Duration(interval), Timeout: models.Duration(timeout),
				MaxRetries: retries, BackoffBase: models.Duration(time.Millisecond),
			},
			{
				Protocol: models.ProtocolSSH, Interval: models.Duration(interval), Timeout: models.Duration(timeout),
				MaxRetries: retries, BackoffBase: models.Duration(time.Millisecond),
			},
		}
	})
}

func newOrchestrator(t *testing.T, cfg *Config) *Orchestrator {
	t.Helper()

	if cfg.Store == nil {
		cfg.Store = snapshot.NewStore(logger.NewTestLogger())
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewTestLogger()
	}

	o, err := New(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		assert.NoError(t, o.Close(ctx))
	})

	return o
}

func runOrchestrator(t *testing.T, o *Orchestrator) chan<- identity.Event {
	t.Helper()

	events := make(chan identity.Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- o.Run(ctx, events) }()

	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	return events
}

func device(id, address string) identity.Event {
	return identity.Event{
		Identity:   models.DeviceIdentity{DeviceID: id, Address: address, Kind: models.DeviceKindRouter},
		Source:     "test",
		ReceivedAt: time.Now(),
	}
}

func waitHealth(t *testing.T, o *Orchestrator, deviceID string, want models.Health) {
	t.Helper()

	require.Eventually(t, func() bool {
		st, err := o.Get(deviceID)

		return err == nil && st.Health == want
	}, 2*time.Second, 5*time.Millisecond, "device %s never became %s", deviceID, want)
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), &Config{Specs: specsFor(time.Second, time.Second, 0)})
	require.ErrorIs(t, err, errNoStore)

	_, err = New(context.Background(), &Config{Store: snapshot.NewStore(logger.NewTestLogger())})
	require.ErrorIs(t, err, errNoSpecs)
}

// With a cap of two, six simultaneous polls never overlap more than two at a time and all of
// them eventually run.
func TestGlobalCapBoundsInFlightPolls(t *testing.T) {
	var running, maxSeen atomic.Int32

	snmp := &concurrencyProbe{protocol: models.ProtocolSNMP, delay: 30 * time.Millisecond, running: &running, maxSeen: &maxSeen}
	ssh := &concurrencyProbe{protocol: models.ProtocolSSH, delay: 30 * time.Millisecond, running: &running, maxSeen: &maxSeen}

	o := newOrchestrator(t, &Config{
		MaxConcurrentPolls: 2,
		Specs:              specsFor(time.Hour, time.Second, 0),
		Probes:             probe.NewSet(snmp, ssh),
	})
	events := runOrchestrator(t, o)

	for i := 0; i < 3; i++ {
		events <- device(fmt.Sprintf("dev-%d", i), fmt.Sprintf("10.0.0.%d", i+1))
	}

	for i := 0; i < 3; i++ {
		waitHealth(t, o, fmt.Sprintf("dev-%d", i), models.HealthHealthy)
	}

	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
	assert.Equal(t, 2, o.Pool().Peak())
	assert.Equal(t, int32(3), snmp.calls.Load())
	assert.Equal(t, int32(3), ssh.calls.Load())

	stats := o.Stats()
	assert.Equal(t, 3, stats.Sessions)
	assert.Equal(t, 3, stats.EventsAccepted)
	assert.Equal(t, 2, stats.MaxConcurrent)
}

func TestRefusedEverywhereIsUnreachable(t *testing.T) {
	refused := func(p models.Protocol) func() models.ProbeResult {
		return func() models.ProbeResult {
			return models.NewFailure(p, time.Now(), models.ErrorKindConnectionRefused, "connection refused")
		}
	}

	o := newOrchestrator(t, &Config{
		Specs: specsFor(20*time.Millisecond, 10*time.Millisecond, 1),
		Probes: probe.NewSet(
			&concurrencyProbe{protocol: models.ProtocolSNMP, result: refused(models.ProtocolSNMP)},
			&concurrencyProbe{protocol: models.ProtocolSSH, result: refused(models.ProtocolSSH)},
		),
	})
	events := runOrchestrator(t, o)

	events <- device("dead-router", "10.0.0.1")

	waitHealth(t, o, "dead-router", models.HealthUnreachable)
}

func TestOneProtocolTimingOutIsDegraded(t *testing.T) {
	o := newOrchestrator(t, &Config{
		Specs: specsFor(200*time.Millisecond, 20*time.Millisecond, 2),
		Probes: probe.NewSet(
			&concurrencyProbe{protocol: models.ProtocolSNMP},
			&concurrencyProbe{protocol: models.ProtocolSSH, delay: time.Second},
		),
	})
	events := runOrchestrator(t, o)

	events <- device("TL-WR940N", "192.168.0.1")

	waitHealth(t, o, "TL-WR940N", models.HealthDegraded)

	st, err := o.Get("TL-WR940N")
	require.NoError(t, err)

	snmp := st.Results[models.ProtocolSNMP]
	ssh := st.Results[models.ProtocolSSH]

	assert.True(t, snmp.Success)
	assert.Equal(t, models.ErrorKindTimeout, ssh.FailureKind())
	assert.Equal(t, 3, ssh.Attempts)
}

func TestAbsentDeviceIsSwept(t *testing.T) {
	o := newOrchestrator(t, &Config{
		AbsenceWindow: 60 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
		Specs:         specsFor(time.Hour, time.Second, 0),
		Probes: probe.NewSet(
			&concurrencyProbe{protocol: models.ProtocolSNMP},
			&concurrencyProbe{protocol: models.ProtocolSSH},
		),
	})
	events := runOrchestrator(t, o)

	events <- device("walked-away", "10.0.0.1")

	waitHealth(t, o, "walked-away", models.HealthHealthy)

	require.Eventually(t, func() bool {
		_, err := o.Get("walked-away")

		return errors.Is(err, snapshot.ErrDeviceNotFound)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, o.Registry().Len())
	assert.Equal(t, 1, o.Stats().Swept)
}

func TestMalformedEventsAreSkipped(t *testing.T) {
	o := newOrchestrator(t, &Config{
		Specs: specsFor(time.Hour, time.Second, 0),
		Probes: probe.NewSet(
			&concurrencyProbe{protocol: models.ProtocolSNMP},
			&concurrencyProbe{protocol: models.ProtocolSSH},
		),
	})
	events := runOrchestrator(t, o)

	events <- identity.Event{Err: errors.New("not json"), Source: "test"}
	events <- identity.Event{Identity: models.DeviceIdentity{DeviceID: "no-address"}}
	events <- device("good", "10.0.0.1")

	waitHealth(t, o, "good", models.HealthHealthy)

	stats := o.Stats()
	assert.Equal(t, 2, stats.EventsRejected)
	assert.Equal(t, 1, stats.EventsAccepted)
}

func TestClosedStreamKeepsSweeping(t *testing.T) {
	o := newOrchestrator(t, &Config{
		AbsenceWindow: 30 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
		Specs:         specsFor(time.Hour, time.Second, 0),
		Probes: probe.NewSet(
			&concurrencyProbe{protocol: models.ProtocolSNMP},
			&concurrencyProbe{protocol: models.ProtocolSSH},
		),
	})

	events := make(chan identity.Event, 1)
	events <- device("r1", "10.0.0.1")
	close(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, events) }()

	require.Eventually(t, func() bool {
		return o.Stats().Swept == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestClearAndClearAll(t *testing.T) {
	o := newOrchestrator(t, &Config{
		Specs: specsFor(time.Hour, time.Second, 0),
		Probes: probe.NewSet(
			&concurrencyProbe{protocol: models.ProtocolSNMP},
			&concurrencyProbe{protocol: models.ProtocolSSH},
		),
	})

	for i := 0; i < 3; i++ {
		outcome, err := o.Upsert(models.DeviceIdentity{DeviceID: fmt.Sprintf("d%d", i), Address: fmt.Sprintf("10.0.0.%d", i+1)})
		require.NoError(t, err)
		assert.Equal(t, registry.OutcomeCreated, outcome)
	}

	assert.True(t, o.Clear("d1"))
	assert.False(t, o.Clear("d1"))
	assert.Len(t, o.List(), 2)

	assert.Equal(t, []string{"d0", "d2"}, o.ClearAll())
	assert.Empty(t, o.List())
}
