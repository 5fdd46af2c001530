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

// Package snapshot holds the latest externally readable status of every active device.
package snapshot

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

var (
	// ErrDeviceNotFound is returned when reading a device that has no snapshot.
	ErrDeviceNotFound = errors.New("device not found")
)

const defaultSubscriberBuffer = 64

// Store maps device IDs to their latest status. Each published update replaces the device's
// snapshot with a new value, so readers always observe a whole snapshot and never a half-written one.
type Store struct {
	mu        sync.RWMutex
	devices   map[string]*models.DeviceStatus
	staleness float64
	now       func() time.Time
	logger    logger.Logger

	subMu   sync.Mutex
	subs    map[int]chan models.HealthEvent
	nextSub int
}

// Option customizes a Store.
type Option func(*Store)

// WithStalenessMultiplier sets how many polling intervals a success stays fresh.
func WithStalenessMultiplier(m float64) Option {
	return func(s *Store) {
		if m > 0 {
			s.staleness = m
		}
	}
}

// WithClock overrides the time source used when deriving health.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty snapshot store.
func NewStore(log logger.Logger, opts ...Option) *Store {
	s := &Store{
		devices:   make(map[string]*models.DeviceStatus),
		staleness: DefaultStalenessMultiplier,
		now:       time.Now,
		logger:    log,
		subs:      make(map[int]chan models.HealthEvent),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register creates (or resets) the snapshot for a device. Any previous results are dropped
// and health returns to Unknown.
func (s *Store) Register(identity models.DeviceIdentity, specs []models.ProbeSpec) {
	status := &models.DeviceStatus{
		Identity:    identity,
		Results:     make(map[models.Protocol]models.ProbeResult),
		Intervals:   make(map[models.Protocol]models.Duration, len(specs)),
		Health:      models.HealthUnknown,
		LastUpdated: s.now(),
	}

	for i := range specs {
		status.Intervals[specs[i].Protocol] = specs[i].Interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.devices[identity.DeviceID]
	s.devices[identity.DeviceID] = status

	if prev != nil && prev.Health != models.HealthUnknown {
		s.notifyLocked(identity.DeviceID, prev.Health, models.HealthUnknown, status.LastUpdated)
	}
}

// UpdateIdentity replaces the descriptive identity fields of a registered device while keeping
// its results. It reports false when the device is not registered.
func (s *Store) UpdateIdentity(identity models.DeviceIdentity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.devices[identity.DeviceID]
	if !ok {
		return false
	}

	next := cur.Clone()
	next.Identity = identity
	next.LastUpdated = s.now()
	s.devices[identity.DeviceID] = next

	return true
}

// Publish records the latest result for one protocol of a device and re-derives health.
// Results for devices that are not registered are dropped and Publish reports false.
func (s *Store) Publish(deviceID string, result models.ProbeResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.devices[deviceID]
	if !ok {
		return false
	}

	now := s.now()

	next := cur.Clone()
	next.Results[result.Protocol] = result.Clone()
	next.LastUpdated = now
	next.Health = DeriveHealth(next, now, s.staleness)

	s.devices[deviceID] = next

	if next.Health != cur.Health {
		s.notifyLocked(deviceID, cur.Health, next.Health, now)
	}

	return true
}

// Refresh re-derives health for every device so that stale successes degrade even when no new
// results arrive. It returns the number of devices whose health changed.
func (s *Store) Refresh() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	changed := 0

	for id, cur := range s.devices {
		health := DeriveHealth(cur, now, s.staleness)
		if health == cur.Health {
			continue
		}

		next := cur.Clone()
		next.Health = health
		next.LastUpdated = now
		s.devices[id] = next

		s.notifyLocked(id, cur.Health, health, now)

		changed++
	}

	return changed
}

// Remove deletes a device's snapshot.
func (s *Store) Remove(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.devices, deviceID)
}

// Clear deletes every snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices = make(map[string]*models.DeviceStatus)
}

// Get returns a copy of the device's snapshot.
func (s *Store) Get(deviceID string) (*models.DeviceStatus, error) {
	s.mu.RLock()
	status, ok := s.devices[deviceID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrDeviceNotFound
	}

	// stored snapshots are never mutated after publication, so cloning outside the lock is safe
	return status.Clone(), nil
}

// List returns copies of every snapshot ordered by device ID.
func (s *Store) List() []*models.DeviceStatus {
	s.mu.RLock()
	snapshot := make([]*models.DeviceStatus, 0, len(s.devices))

	for _, status := range s.devices {
		snapshot = append(snapshot, status)
	}
	s.mu.RUnlock()

	out := make([]*models.DeviceStatus, len(snapshot))
	for i, status := range snapshot {
		out[i] = status.Clone()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.DeviceID < out[j].Identity.DeviceID
	})

	return out
}

// Len returns the number of devices with a snapshot.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.devices)
}

// Subscribe returns a channel of health transitions and a function that cancels the
// subscription. Slow subscribers lose events rather than stall publishers.
func (s *Store) Subscribe(buffer int) (<-chan models.HealthEvent, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	ch := make(chan models.HealthEvent, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()

			close(ch)
		})
	}
}

func (s *Store) notifyLocked(deviceID string, prev, next models.Health, ts time.Time) {
	event := models.HealthEvent{
		DeviceID:       deviceID,
		PreviousHealth: prev,
		NewHealth:      next,
		Timestamp:      ts,
	}

	s.logger.Info().
		Str("device_id", deviceID).
		Str("previous", string(prev)).
		Str("current", string(next)).
		Msg("Device health changed")

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- event:
		default:
			s.logger.Warn().Int("subscriber", id).Str("device_id", deviceID).
				Msg("Dropping health event for slow subscriber")
		}
	}
}
