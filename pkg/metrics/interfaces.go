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

package metrics

import (
	"time"

	"github.com/carverauto/arnet/pkg/models"
)

// MetricStore is a bounded per-device history of poll attempts.
type MetricStore interface {
	Add(point models.PollPoint)
	GetPoints() []models.PollPoint
	GetLastPoint() *models.PollPoint
}

// HistoryReader serves recorded poll history.
type HistoryReader interface {
	History(deviceID string) []models.PollPoint
	CleanupStale(staleDuration time.Duration, now time.Time) int
}

// Gauges is a point-in-time view of orchestrator load, observed by the gauge callbacks.
type Gauges struct {
	Sessions int64
	InFlight int64
	Waiting  int64
}

// GaugeSource supplies Gauges on each collection.
type GaugeSource func() Gauges
