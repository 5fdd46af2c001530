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

package models

import "time"

// Health is the derived overall condition of a device.
type Health string

const (
	HealthUnknown     Health = "unknown"
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnreachable Health = "unreachable"
)

// DeviceStatus is the externally readable snapshot for one device.
// Values handed out by the snapshot store are copies; mutating them has no effect on the store.
type DeviceStatus struct {
	Identity    DeviceIdentity           `json:"identity"`
	Results     map[Protocol]ProbeResult `json:"results"`
	Intervals   map[Protocol]Duration    `json:"intervals"`
	Health      Health                   `json:"health"`
	LastUpdated time.Time                `json:"last_updated"`
}

// Clone deep-copies the status.
func (s *DeviceStatus) Clone() *DeviceStatus {
	if s == nil {
		return nil
	}

	out := &DeviceStatus{
		Identity:    s.Identity,
		Results:     make(map[Protocol]ProbeResult, len(s.Results)),
		Intervals:   make(map[Protocol]Duration, len(s.Intervals)),
		Health:      s.Health,
		LastUpdated: s.LastUpdated,
	}

	for p, r := range s.Results {
		out.Results[p] = r.Clone()
	}

	for p, d := range s.Intervals {
		out.Intervals[p] = d
	}

	return out
}

// HealthEvent is emitted whenever a device's overall health changes.
type HealthEvent struct {
	DeviceID       string    `json:"device_id"`
	PreviousHealth Health    `json:"previous_health"`
	NewHealth      Health    `json:"new_health"`
	Timestamp      time.Time `json:"timestamp"`
}

// PollPoint is one recorded poll attempt kept in the short-term history.
type PollPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Protocol  Protocol  `json:"protocol"`
	Success   bool      `json:"success"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Attempt   int       `json:"attempt"`
	Duration  Duration  `json:"duration"`
}
