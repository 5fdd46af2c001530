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

package snapshot

import (
	"time"

	"github.com/carverauto/arnet/pkg/models"
)

// DefaultStalenessMultiplier bounds how old a success may be, in polling intervals, before the
// device stops counting as healthy.
const DefaultStalenessMultiplier = 2.0

// DeriveHealth computes overall health from the per-protocol results of status and their ages.
// It never looks at status.Health.
//
// Protocols that have not completed a first poll yet hold the device at Unknown as long as
// everything that did complete succeeded; any completed failure makes it Degraded. Once every
// configured protocol has a result the rules are: all reachability failures is Unreachable,
// all fresh successes is Healthy, anything else is Degraded.
func DeriveHealth(status *models.DeviceStatus, now time.Time, multiplier float64) models.Health {
	if status == nil || len(status.Results) == 0 {
		return models.HealthUnknown
	}

	if multiplier <= 0 {
		multiplier = DefaultStalenessMultiplier
	}

	configured := configuredProtocols(status)

	var (
		pending         bool
		anyFailure      bool
		allReachability = true
		allFresh        = true
	)

	for _, p := range configured {
		result, ok := status.Results[p]
		if !ok {
			pending = true
			allReachability = false
			allFresh = false

			continue
		}

		if result.Success {
			allReachability = false

			if isStale(result, status.Intervals[p], now, multiplier) {
				allFresh = false
			}

			continue
		}

		anyFailure = true
		allFresh = false

		if !result.FailureKind().IsReachabilityFailure() {
			allReachability = false
		}
	}

	switch {
	case pending && !anyFailure && allSuccessesFresh(status, now, multiplier):
		return models.HealthUnknown
	case allReachability:
		return models.HealthUnreachable
	case allFresh:
		return models.HealthHealthy
	default:
		return models.HealthDegraded
	}
}

func configuredProtocols(status *models.DeviceStatus) []models.Protocol {
	seen := make(map[models.Protocol]struct{}, len(status.Intervals)+len(status.Results))
	out := make([]models.Protocol, 0, len(seen))

	for p := range status.Intervals {
		seen[p] = struct{}{}
		out = append(out, p)
	}

	if len(status.Intervals) > 0 {
		return out
	}

	for p := range status.Results {
		if _, ok := seen[p]; !ok {
			out = append(out, p)
		}
	}

	return out
}

func allSuccessesFresh(status *models.DeviceStatus, now time.Time, multiplier float64) bool {
	for p, result := range status.Results {
		if result.Success && isStale(result, status.Intervals[p], now, multiplier) {
			return false
		}
	}

	return true
}

func isStale(result models.ProbeResult, interval models.Duration, now time.Time, multiplier float64) bool {
	if interval <= 0 {
		return false
	}

	bound := time.Duration(float64(interval) * multiplier)

	return now.Sub(result.Timestamp) > bound
}
