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

// Package metrics records poll attempts as short-term per-device history and OpenTelemetry
// instruments.
package metrics

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

const (
	DefaultRetention  = 100
	DefaultMaxDevices = 10000
)

// Config sizes the history kept by a Manager.
type Config struct {
	Retention  int
	MaxDevices int
}

// Manager keeps a ring buffer of recent poll attempts per device and evicts the least recently
// polled device once MaxDevices is reached. It implements session.Observer.
type Manager struct {
	devices     sync.Map // deviceID -> MetricStore
	config      Config
	deviceCount atomic.Int64
	evictList   *list.List // LRU, front is most recent
	evictMap    map[string]*list.Element
	mu          sync.Mutex // protects evictList and evictMap
	instruments *Instruments
	logger      logger.Logger
}

var _ HistoryReader = (*Manager)(nil)

// NewManager builds a Manager. instruments may be nil.
func NewManager(cfg Config, instruments *Instruments, log logger.Logger) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = DefaultMaxDevices
	}

	return &Manager{
		config:      cfg,
		evictList:   list.New(),
		evictMap:    make(map[string]*list.Element),
		instruments: instruments,
		logger:      log,
	}
}

// ObserveAttempt records one poll attempt.
func (m *Manager) ObserveAttempt(deviceID string, result models.ProbeResult) {
	if m.instruments != nil {
		m.instruments.Record(context.Background(), result)
	}

	m.touch(deviceID)

	store, loaded := m.devices.LoadOrStore(deviceID, NewBuffer(m.config.Retention))
	if !loaded {
		m.deviceCount.Add(1)
	}

	store.(MetricStore).Add(models.PollPoint{
		Timestamp: result.Timestamp,
		Protocol:  result.Protocol,
		Success:   result.Success,
		Kind:      result.FailureKind(),
		Attempt:   result.Attempts,
		Duration:  result.Duration,
	})
}

// touch moves deviceID to the front of the LRU, evicting the oldest device when over capacity.
func (m *Manager) touch(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if element, ok := m.evictMap[deviceID]; ok {
		m.evictList.MoveToFront(element)
		return
	}

	m.evictMap[deviceID] = m.evictList.PushFront(deviceID)

	for m.evictList.Len() > m.config.MaxDevices {
		oldest := m.evictList.Back()
		id := oldest.Value.(string)

		m.evictList.Remove(oldest)
		delete(m.evictMap, id)

		if _, ok := m.devices.LoadAndDelete(id); ok {
			m.deviceCount.Add(-1)
		}

		m.logger.Debug().Str("device_id", id).Msg("Evicted poll history")
	}
}

// History returns the recorded attempts for deviceID, oldest first.
func (m *Manager) History(deviceID string) []models.PollPoint {
	store, ok := m.devices.Load(deviceID)
	if !ok {
		return nil
	}

	return store.(MetricStore).GetPoints()
}

// Remove drops the history of deviceID.
func (m *Manager) Remove(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(deviceID)
}

func (m *Manager) removeLocked(deviceID string) {
	if element, ok := m.evictMap[deviceID]; ok {
		m.evictList.Remove(element)
		delete(m.evictMap, deviceID)
	}

	if _, ok := m.devices.LoadAndDelete(deviceID); ok {
		m.deviceCount.Add(-1)
	}
}

// CleanupStale removes devices whose newest attempt is older than staleDuration and returns how
// many were removed.
func (m *Manager) CleanupStale(staleDuration time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := now.Add(-staleDuration)
	removed := 0

	m.devices.Range(func(key, value interface{}) bool {
		last := value.(MetricStore).GetLastPoint()
		if last != nil && last.Timestamp.Before(threshold) {
			m.removeLocked(key.(string))
			removed++
		}

		return true
	})

	return removed
}

// ActiveDevices returns how many devices currently have history.
func (m *Manager) ActiveDevices() int64 {
	return m.deviceCount.Load()
}
